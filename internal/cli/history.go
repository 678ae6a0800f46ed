package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fitzbot/fitzbot/internal/db"
	"github.com/fitzbot/fitzbot/internal/models"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyType  string
	historyEvent string
	historySince time.Duration
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries to show")
	historyCmd.Flags().StringVar(&historyType, "type", "", "filter by entry type (e.g. fire.matched)")
	historyCmd.Flags().StringVar(&historyEvent, "event", "", "filter by event name")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only entries newer than this (e.g. 1h)")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the dispatch journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := GetConfig().Journal.Path
		if path == "" {
			return errors.New("journal is disabled: set journal.path")
		}
		database, err := db.Open(path)
		if err != nil {
			return err
		}
		defer database.Close()
		if _, err := database.MigrateUp(cmd.Context()); err != nil {
			return err
		}

		q := db.EventQuery{Limit: historyLimit}
		if historyType != "" {
			t := models.EventType(historyType)
			q.Type = &t
		}
		if historyEvent != "" {
			entity := models.EntityTypeEvent
			q.EntityType = &entity
			q.EntityID = &historyEvent
		}
		if historySince > 0 {
			since := time.Now().UTC().Add(-historySince)
			q.Since = &since
		}

		repo := db.NewEventRepository(database)
		total, err := repo.Count(cmd.Context(), q)
		if err != nil {
			return err
		}
		// Show the newest matches, oldest first.
		if total > historyLimit && historyLimit > 0 {
			skip, err := repo.Query(cmd.Context(), db.EventQuery{
				Type: q.Type, EntityType: q.EntityType, EntityID: q.EntityID, Since: q.Since,
				Limit: total - historyLimit,
			})
			if err != nil {
				return err
			}
			q.Cursor = skip.Events[len(skip.Events)-1].ID
		}
		page, err := repo.Query(cmd.Context(), q)
		if err != nil {
			return err
		}
		if err := writeHistory(cmd.OutOrStdout(), page.Events); err != nil {
			return err
		}
		if !IsJSONOutput() && total > len(page.Events) {
			fmt.Fprintln(cmd.OutOrStdout(), render(styleMuted, fmt.Sprintf("showing %d of %d entries", len(page.Events), total)))
		}
		return nil
	},
}

func writeHistory(out io.Writer, entries []*models.Event) error {
	if IsJSONOutput() {
		if entries == nil {
			entries = []*models.Event{}
		}
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, render(styleMuted, "no journal entries"))
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			formatEntryType(e.Type),
			e.EntityID,
			truncate(string(e.Payload), 60),
		})
	}
	return writeTable(out, []string{"TIME", "TYPE", "ENTITY", "PAYLOAD"}, rows)
}
