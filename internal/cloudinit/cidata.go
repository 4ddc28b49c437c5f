// Package cloudinit synthesizes the cloud-init NoCloud seed device from the
// machine configuration.
//
// The [cloudinit] config table supplies user-data, meta-data, and
// network-config either inline or as file references. The three files are
// packed into an ISO9660 image labeled CIDATA, as required by the NoCloud
// datasource, and served from a read-only in-memory block backend.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"bytes"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/kdomanski/iso9660"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/kindling/internal/block"
	"github.com/jbweber/kindling/internal/config"
)

// metaData is the minimal NoCloud meta-data synthesized when the
// configuration does not provide its own.
type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// BuildBackend builds the CIDATA seed ISO from the full machine
// configuration and wraps it in a read-only memory backend.
func BuildBackend(cfg *config.Config) (block.Backend, error) {
	image, err := BuildISO(cfg)
	if err != nil {
		return nil, err
	}
	ro := true
	be, err := block.NewMemBackendFromBytes(
		block.KindCloudinit, image, block.Options{ReadOnly: &ro}, block.DefaultWorkerCount)
	if err != nil {
		return nil, fmt.Errorf("failed to back cidata image: %w", err)
	}
	return be, nil
}

// BuildISO assembles the CIDATA ISO image bytes.
func BuildISO(cfg *config.Config) ([]byte, error) {
	ci := cfg.CloudInit
	if ci == nil {
		return nil, fmt.Errorf("cloudinit block device configured without a [cloudinit] table")
	}

	userData, err := resolveItem("user-data", ci.UserData, ci.UserDataPath)
	if err != nil {
		return nil, err
	}
	if userData == nil {
		// NoCloud requires the file to exist even when empty.
		userData = []byte("#cloud-config\n")
	}

	meta, err := resolveItem("meta-data", ci.MetaData, ci.MetaDataPath)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		if meta, err = defaultMetaData(cfg); err != nil {
			return nil, err
		}
	}

	netConfig, err := resolveItem("network-config", ci.NetworkConfig, ci.NetworkConfigPath)
	if err != nil {
		return nil, err
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader(userData), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader(meta), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}
	if netConfig != nil {
		if err := writer.AddFile(bytes.NewReader(netConfig), "network-config"); err != nil {
			return nil, fmt.Errorf("failed to add network-config: %w", err)
		}
	}

	// The volume label must be CIDATA (uppercase) per the NoCloud spec.
	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}

// resolveItem returns a seed item's content from its inline or
// path-referenced form. Supplying both is a configuration error; supplying
// neither returns nil.
func resolveItem(name string, inline, path *string) ([]byte, error) {
	switch {
	case inline != nil && path != nil:
		return nil, fmt.Errorf("cloudinit %s given both inline and as a path", name)
	case inline != nil:
		return []byte(*inline), nil
	case path != nil:
		data, err := os.ReadFile(*path)
		if err != nil {
			return nil, fmt.Errorf("failed to read cloudinit %s from %s: %w", name, *path, err)
		}
		return data, nil
	default:
		return nil, nil
	}
}

// defaultMetaData synthesizes meta-data from the machine name, with a fresh
// instance-id so cloud-init treats every boot of the seed as first boot.
func defaultMetaData(cfg *config.Config) ([]byte, error) {
	md := metaData{
		InstanceID:    uuid.NewString(),
		LocalHostname: cfg.Main.Name,
	}
	out, err := yaml.Marshal(&md)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta-data: %w", err)
	}
	return out, nil
}
