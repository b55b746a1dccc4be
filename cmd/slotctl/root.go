package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voltask/internal/client/ipc"
	"voltask/internal/client/slot"
	"voltask/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "slotctl",
	Short: "Inspect task slots on a volunteer computing host",
	Long: `slotctl looks inside the slot directories and shared-memory segments
used by task-client. It can show what a worker was started with, what is
waiting on each message channel, and what a failed slot archive contains.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./slotctl.yaml)")
	rootCmd.PersistentFlags().String("slots-dir", "slots", "Directory holding the numbered slots")
	rootCmd.PersistentFlags().String("shm-dir", ipc.DefaultShmDir(), "Directory holding shared-memory segments")
	rootCmd.PersistentFlags().String("salt", ipc.DefaultSalt, "Salt used to derive segment names")

	viper.BindPFlag("client.slotsDir", rootCmd.PersistentFlags().Lookup("slots-dir"))
	viper.BindPFlag("client.shmDir", rootCmd.PersistentFlags().Lookup("shm-dir"))
	viper.BindPFlag("client.shmSalt", rootCmd.PersistentFlags().Lookup("salt"))

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(archiveCmd)
}

func initConfig() {
	if cfgFile := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("slotctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VOLTASK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env cover everything.
	viper.ReadInConfig()
}

// slotDir resolves a slot number argument to its absolute directory.
func slotDir(arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return "", errors.Newf(errors.InvalidParams, "slot must be a non-negative number, got %q", arg)
	}
	dir, err := filepath.Abs(slot.Dir(viper.GetString("client.slotsDir"), n))
	if err != nil {
		return "", errors.Wrap(err, errors.InvalidParams)
	}
	if _, err := os.Stat(dir); err != nil {
		return "", errors.Newf(errors.NotFound, "slot %d not found at %s", n, dir)
	}
	return dir, nil
}
