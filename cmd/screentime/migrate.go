package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/config"
)

var (
	shiftDaysBy    int
	shiftAssumeYes bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Data migration commands",
}

var shiftDatesCmd = &cobra.Command{
	Use:   "shift-dates",
	Short: "Shift every stored day key by a number of days",
	Long: `Shift the day key of every stored usage and eye time bucket by the given
number of days. Hourly minutes are left untouched. This repairs data recorded
under a wrong timezone configuration, where every bucket landed one day off.`,
	RunE: runShiftDates,
}

func init() {
	shiftDatesCmd.Flags().IntVar(&shiftDaysBy, "days", 0, "Number of days to shift (negative shifts backwards)")
	shiftDatesCmd.Flags().BoolVar(&shiftAssumeYes, "yes", false, "Skip the confirmation prompt")
	migrateCmd.AddCommand(shiftDatesCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runShiftDates(cmd *cobra.Command, args []string) error {
	if shiftDaysBy == 0 {
		return fmt.Errorf("--days must be non-zero")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	bold := color.New(color.Bold)
	bold.Printf("Shifting all stored day keys by %+d day(s)\n", shiftDaysBy)
	fmt.Println("Hourly minutes are left untouched. Back up the data first.")

	if !shiftAssumeYes {
		fmt.Print("Proceed? (yes/no): ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	usageShifted, err := store.Usage().ShiftDays(ctx, shiftDaysBy)
	if err != nil {
		return fmt.Errorf("shift usage buckets: %w", err)
	}
	eyeShifted, err := store.EyeTime().ShiftDays(ctx, shiftDaysBy)
	if err != nil {
		return fmt.Errorf("shift eye time buckets: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Done: shifted %d usage bucket(s) and %d eye time bucket(s)\n", usageShifted, eyeShifted)
	return nil
}
