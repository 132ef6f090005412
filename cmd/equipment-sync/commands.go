package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/syncengine"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	streamReconnectBase = time.Second
	streamReconnectCap  = 30 * time.Second
)

var errSyncFailed = errors.New("sync failed")

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one push and pull cycle against the authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if err := app.recoverInterrupted(ctx); err != nil {
				return err
			}
			result := app.coordinator.Sync(ctx)
			printResult(cmd.OutOrStdout(), result)
			if !result.Success {
				return errSyncFailed
			}
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync periodically and whenever the authority announces a change",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := app.recoverInterrupted(ctx); err != nil {
				return err
			}

			retryConfig := syncengine.DefaultRetryConfig()
			retryConfig.MaxAttempts = uint64(app.cfg.MaxAttempts)
			scheduler := syncengine.NewScheduler(syncengine.SchedulerConfig{
				Cycler:   app.coordinator,
				Interval: app.cfg.SyncInterval,
				Retry:    retryConfig,
				Logger:   app.logger,
				OnResult: func(result syncengine.Result) {
					printResult(cmd.OutOrStdout(), result)
					logTelemetry(app.logger, app.coordinator.Telemetry())
				},
			})

			go watchChangeStream(ctx, app, scheduler)
			return scheduler.Run(ctx)
		},
	}
}

// watchChangeStream keeps the change stream open, reconnecting with backoff, and turns
// every notice into a scheduler trigger.
func watchChangeStream(ctx context.Context, app *clientApp, scheduler *syncengine.Scheduler) {
	backoff := retry.NewExponential(streamReconnectBase)
	backoff = retry.WithCappedDuration(streamReconnectCap, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := app.remote.Subscribe(ctx, func(notice equipment.ChangeNotice) {
			app.logger.Debug("change notice received", zap.Int("records", len(notice.IDs)))
			scheduler.Trigger()
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("change stream closed")
		}
		app.logger.Warn("change stream disconnected", zap.Error(err))
		return retry.RetryableError(err)
	})
	if err != nil && ctx.Err() == nil {
		app.logger.Error("change stream stopped", zap.Error(err))
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted sync state and the number of unsynced records",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			snapshot, err := app.states.Snapshot(ctx)
			if err != nil {
				return err
			}
			dirty, err := syncengine.NewChangeTracker(app.store).Scan(ctx)
			if err != nil {
				return err
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "state\t%s\n", valueOrDash(snapshot.SyncState))
			fmt.Fprintf(writer, "watermark\t%s\n", timestampOrDash(snapshot.Watermark))
			fmt.Fprintf(writer, "last success\t%s\n", timestampOrDash(snapshot.LastSuccess))
			fmt.Fprintf(writer, "last error\t%s\n", valueOrDash(snapshot.LastError))
			fmt.Fprintf(writer, "pending upserts\t%d\n", len(dirty.Upserts))
			fmt.Fprintf(writer, "pending deletes\t%d\n", len(dirty.Deletes)+len(dirty.PermanentDeletes))
			return writer.Flush()
		},
	}
}

func newListCommand() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local equipment records",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			records, err := app.store.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tTYPE\tQTY\tLOCATION\tSTATUS\tUPDATED\tSYNCED")
			for _, record := range records {
				if record.IsDeleted && !includeDeleted {
					continue
				}
				synced := "yes"
				if !record.IsSynced {
					synced = "no"
				}
				if record.IsDeleted {
					synced += " (deleted)"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					record.ID, record.Name, record.Type, record.Quantity,
					record.Location, record.Status, record.UpdateTime, synced)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "all", false, "Include records deleted locally but not yet pushed")
	return cmd
}

func newAddCommand() *cobra.Command {
	var fields equipment.Fields
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a local equipment record",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			saved, err := app.store.Put(cmd.Context(), "", fields)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved.ID)
			return nil
		},
	}
	bindFieldFlags(cmd, &fields)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUpdateCommand() *cobra.Command {
	var (
		recordID string
		changes  equipment.Fields
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Edit fields of a local equipment record",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			existing, err := app.store.Get(ctx, recordID)
			if err != nil {
				return err
			}
			saved, err := app.store.Put(ctx, recordID, mergeChangedFields(cmd, existing.Fields, changes))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated at %s\n", saved.ID, saved.UpdateTime)
			return nil
		},
	}
	cmd.Flags().StringVar(&recordID, "id", "", "Record id")
	_ = cmd.MarkFlagRequired("id")
	bindFieldFlags(cmd, &changes)
	return cmd
}

func newRemoveCommand() *cobra.Command {
	var (
		recordID  string
		permanent bool
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a local equipment record on the next sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClientApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			saved, err := app.store.MarkDeleted(cmd.Context(), recordID, permanent)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked deleted\n", saved.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&recordID, "id", "", "Record id")
	cmd.Flags().BoolVar(&permanent, "permanent", false, "Drop the canonical record instead of flagging it deleted")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func bindFieldFlags(cmd *cobra.Command, fields *equipment.Fields) {
	flags := cmd.Flags()
	flags.StringVar(&fields.Name, "name", "", "Equipment name")
	flags.StringVar(&fields.Type, "type", "", "Equipment type")
	flags.StringVar(&fields.Specification, "specification", "", "Model or specification")
	flags.IntVar(&fields.Quantity, "quantity", 0, "Quantity on hand")
	flags.StringVar(&fields.Location, "location", "", "Storage location")
	flags.StringVar(&fields.Status, "status", "", "Status label")
	flags.StringVar(&fields.Remarks, "remarks", "", "Free-form remarks")
	flags.StringVar(&fields.Borrower, "borrower", "", "Current borrower")
	flags.StringVar(&fields.Contact, "contact", "", "Borrower contact")
	flags.StringVar(&fields.BorrowTime, "borrow-time", "", "Borrow time")
	flags.StringVar(&fields.ReturnTime, "return-time", "", "Expected return time")
}

// mergeChangedFields overlays only the field flags the user actually passed.
func mergeChangedFields(cmd *cobra.Command, base, changes equipment.Fields) equipment.Fields {
	flags := cmd.Flags()
	overlay := map[string]func(){
		"name":          func() { base.Name = changes.Name },
		"type":          func() { base.Type = changes.Type },
		"specification": func() { base.Specification = changes.Specification },
		"quantity":      func() { base.Quantity = changes.Quantity },
		"location":      func() { base.Location = changes.Location },
		"status":        func() { base.Status = changes.Status },
		"remarks":       func() { base.Remarks = changes.Remarks },
		"borrower":      func() { base.Borrower = changes.Borrower },
		"contact":       func() { base.Contact = changes.Contact },
		"borrow-time":   func() { base.BorrowTime = changes.BorrowTime },
		"return-time":   func() { base.ReturnTime = changes.ReturnTime },
	}
	for name, apply := range overlay {
		if flags.Changed(name) {
			apply()
		}
	}
	return base
}

func printResult(out io.Writer, result syncengine.Result) {
	switch {
	case result.AlreadySyncing:
		fmt.Fprintln(out, "sync skipped: "+result.Message)
	case result.Success:
		fmt.Fprintf(out, "sync succeeded at %s: pushed %d updates and %d deletes in %d batches; pulled %d new, %d replaced, %d kept local, %d removed\n",
			result.CompletedAt,
			result.Push.UpdatedCount, result.Push.DeletedCount, result.Push.Batches,
			result.Pull.Inserted, result.Pull.Replaced, result.Pull.KeptLocal, result.Pull.Removed)
	default:
		code := result.Code
		if code == "" {
			code = equipment.CodeInternal
		}
		fmt.Fprintf(out, "sync failed during %s [%s]: %s\n", valueOrDash(result.Phase), code, result.Message)
	}
}

func valueOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func timestampOrDash(value equipment.Timestamp) string {
	if value.IsZero() {
		return "-"
	}
	return value.String()
}

func logTelemetry(logger *zap.Logger, telemetry syncengine.Telemetry) {
	logger.Info("sync telemetry",
		zap.Int("cycles_started", telemetry.CyclesStarted),
		zap.Int("cycles_succeeded", telemetry.CyclesSucceeded),
		zap.Int("cycles_failed", telemetry.CyclesFailed),
		zap.Int("cycles_rejected", telemetry.CyclesRejected),
		zap.String("last_success", telemetry.LastSuccess.String()),
		zap.String("last_error", telemetry.LastError),
		zap.Int("last_pushed", telemetry.LastPush.UpdatedCount+telemetry.LastPush.DeletedCount),
		zap.Int("last_pulled", telemetry.LastPull.Inserted+telemetry.LastPull.Replaced+telemetry.LastPull.Removed))
}
