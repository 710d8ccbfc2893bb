// Package cobra wires the rainctl command-line surface: a package-level
// rootCmd with the version, dump-header and simulate subcommands
// registered in InitCLI.
package cobra

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Anthya1104/rain-striper/internal/config"
	"github.com/Anthya1104/rain-striper/internal/header"
	"github.com/Anthya1104/rain-striper/internal/simulate"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

var (
	headerSizeB  uint32
	blockSizeB   uint32
	dataStripes  uint16
	parityShards uint16
	schemeFlag   string
	dataFlag     string
	clearIndex   int
	configPath   string
)

var rootCmd = &cobra.Command{
	Use:   "rainctl",
	Short: "Inspect and exercise the RAIN striped-file engine",
	Run: func(cmd *cobra.Command, args []string) {
		logrus.Info("rainctl: use --help to list subcommands")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		logrus.Infof("Version: %s", config.Version)
	},
}

var dumpHeaderCmd = &cobra.Command{
	Use:   "dump-header <stripe-file>",
	Short: "Read and pretty-print one stripe file's header",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		sio := stripeio.NewLocalFile(path, path)
		ctx := context.Background()
		if err := sio.OpenAsync(ctx, os.O_RDONLY, 0).Wait(ctx); err != nil {
			return fmt.Errorf("dump-header: open %s: %w", path, err)
		}
		defer sio.Close(ctx)

		h, ok, err := header.ReadFrom(ctx, sio, headerSizeB, 0)
		if err != nil {
			return fmt.Errorf("dump-header: %w", err)
		}
		if !ok {
			fmt.Println("ERROR: Failed to read header information!")
			return nil
		}

		fmt.Println("RAIN header info:")
		fmt.Printf("  tag               : %s\n", header.Tag)
		fmt.Printf("  stripe_logical_id : %d\n", h.StripeLogicalID)
		fmt.Printf("  num_blocks        : %d\n", h.NumBlocks)
		fmt.Printf("  size_last_block   : %d\n", h.SizeLastBlock)
		fmt.Printf("  block_size        : %d\n", h.BlockSize)
		fmt.Printf("  file_size         : %d\n", h.SizeFile())
		return nil
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write data across simulated stripes (in-memory, or from a YAML config), optionally clear one, and read it back",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dataFlag == "" {
			return fmt.Errorf("simulate: --data is required")
		}
		scheme := config.DoubleParity
		switch schemeFlag {
		case "", "double-parity":
			scheme = config.DoubleParity
		case "reed-solomon":
			scheme = config.ReedSolomon
		default:
			return fmt.Errorf("simulate: unknown --scheme %q", schemeFlag)
		}

		var stripeURLs []string
		var simHeaderSizeB uint32
		if configPath != "" {
			layout, urls, err := config.LoadYAML(configPath)
			if err != nil {
				return fmt.Errorf("simulate: %w", err)
			}
			dataStripes = layout.StripeDataCount
			parityShards = layout.StripeParityCount
			blockSizeB = layout.BlockSizeB
			simHeaderSizeB = layout.HeaderSizeB
			scheme = layout.Scheme
			stripeURLs = urls
		}

		result, err := simulate.Run(simulate.Options{
			Data:         []byte(dataFlag),
			DataStripes:  dataStripes,
			ParityShards: parityShards,
			BlockSizeB:   blockSizeB,
			HeaderSizeB:  simHeaderSizeB,
			Scheme:       scheme,
			StripeURLs:   stripeURLs,
			ClearIndex:   clearIndex,
		})
		if err != nil {
			return err
		}

		logrus.Infof("wrote %d bytes across %d stripes (D=%d P=%d)", len(dataFlag), dataStripes+parityShards, dataStripes, parityShards)
		logrus.Infof("read back before clearing stripe %d: %q", clearIndex, result.BeforeClear)
		logrus.Infof("read back after clearing stripe %d: %q", clearIndex, result.AfterClear)
		return nil
	},
}

func InitCLI() *cobra.Command {
	dumpHeaderCmd.Flags().Uint32Var(&headerSizeB, "header-size", config.DefaultHeaderSizeB, "header size in bytes")

	simulateCmd.Flags().StringVar(&dataFlag, "data", "", "input data to write")
	simulateCmd.Flags().Uint16Var(&dataStripes, "stripes", 4, "number of data stripes (D)")
	simulateCmd.Flags().Uint16Var(&parityShards, "parity", 2, "number of parity stripes (P)")
	simulateCmd.Flags().Uint32Var(&blockSizeB, "blocksize", 64, "block size in bytes")
	simulateCmd.Flags().StringVar(&schemeFlag, "scheme", "double-parity", "parity scheme: double-parity or reed-solomon")
	simulateCmd.Flags().IntVar(&clearIndex, "clear", -1, "physical stripe index to clear after the first read (-1 skips)")
	simulateCmd.Flags().StringVar(&configPath, "config", "", "YAML layout config; overrides the layout flags and supplies stripe URLs")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpHeaderCmd)
	rootCmd.AddCommand(simulateCmd)

	return rootCmd
}

func ExecuteCmd() error {
	return InitCLI().Execute()
}
