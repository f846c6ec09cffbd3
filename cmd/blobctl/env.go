package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const envPrefix = "BLOBCTL_"

// setFlagsFromEnvVariables sets each flag from BLOBCTL_<NAME>, e.g. --address
// from BLOBCTL_ADDRESS. BLOBCTL_<NAME>_FILE reads the value from a file,
// which keeps tokens out of the environment.
func setFlagsFromEnvVariables(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		name := flagToEnvVarName(f)
		if val, ok := os.LookupEnv(name); ok {
			if setErr := fs.Set(f.Name, val); setErr != nil {
				err = fmt.Errorf("%s: %w", name, setErr)
			}
			return
		}
		if strings.HasSuffix(name, "_FILE") {
			return
		}
		if path, ok := os.LookupEnv(name + "_FILE"); ok {
			raw, readErr := os.ReadFile(path)
			if readErr != nil {
				err = fmt.Errorf("%s_FILE: %w", name, readErr)
				return
			}
			if setErr := fs.Set(f.Name, strings.TrimRight(string(raw), "\r\n")); setErr != nil {
				err = fmt.Errorf("%s_FILE: %w", name, setErr)
			}
		}
	})
	return err
}

func flagToEnvVarName(f *pflag.Flag) string {
	return envPrefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
}
