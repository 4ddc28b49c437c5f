package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// TableFormatter formats summaries as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header rows.
	NoHeaders bool
}

// FormatSummary formats a machine summary as a pair of tables: one for the
// machine itself and one for its devices.
func (f *TableFormatter) FormatSummary(s *Summary) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tCPUS\tMEMORY\tBOOTROM\tCPUID\tCLOUD-INIT")
	}
	profile := s.CpuidProfile
	if profile == "" {
		profile = "-"
	}
	cloudInit := "no"
	if s.CloudInit {
		cloudInit = "yes"
	}
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d MiB\t%s\t%s\t%s\n",
		s.Name, s.CPUs, s.MemoryMiB, s.Bootrom, profile, cloudInit)
	_ = w.Flush()

	if len(s.Devices) > 0 {
		buf.WriteString("\n")
		dw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		if !f.NoHeaders {
			_, _ = fmt.Fprintln(dw, "DEVICE\tDRIVER\tBLOCK-DEV\tTYPE\tRO")
		}
		for _, dev := range s.Devices {
			blockDev := dev.BlockDev
			devType := "-"
			ro := "-"
			if blockDev == "" {
				blockDev = "-"
			} else {
				for _, bd := range s.BlockDevs {
					if bd.Name == dev.BlockDev {
						devType = bd.Type
						ro = fmt.Sprintf("%t", bd.ReadOnly)
						break
					}
				}
			}
			_, _ = fmt.Fprintf(dw, "%s\t%s\t%s\t%s\t%s\n",
				dev.Name, dev.Driver, blockDev, devType, ro)
		}
		_ = dw.Flush()
	}

	return buf.String(), nil
}
