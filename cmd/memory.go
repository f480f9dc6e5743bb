package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/reverie/core/memory"
)

var (
	memorySalience float64
	memoryLimit    int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain long-term memory",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memory by semantic similarity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		opts := memory.DefaultRecallOptions()
		opts.Limit = memoryLimit
		opts.MarkAsRecalled = false

		query := strings.Join(args, " ")
		recalled, err := app.engine.Recall(context.Background(), []string{query}, opts)
		if err != nil {
			return err
		}
		if len(recalled) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, r := range recalled {
			fmt.Printf("%.3f  [%s x%d]  %s\n",
				r.CombinedScore, r.Entry.Type, r.Entry.RecallCount, r.Entry.Text)
		}
		return nil
	},
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store text as a manual memory entry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ids, err := app.engine.Add(context.Background(), strings.Join(args, " "), memory.Metadata{
			Role:     "user",
			Type:     memory.TypeManual,
			Salience: memorySalience,
		})
		if err != nil {
			return err
		}
		fmt.Printf("stored %d entries\n", len(ids))
		return nil
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all memory entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.engine.Clear(); err != nil {
			return err
		}
		fmt.Println("memory cleared")
		return nil
	},
}

func init() {
	memorySearchCmd.Flags().IntVar(&memoryLimit, "limit", 8, "maximum results")
	memoryAddCmd.Flags().Float64Var(&memorySalience, "salience", 0.8, "importance from 0.0 to 1.0")
	memoryCmd.AddCommand(memorySearchCmd, memoryAddCmd, memoryClearCmd)
	rootCmd.AddCommand(memoryCmd)
}
