package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/havenvirt/stratum/pkg/metrics"
	"github.com/havenvirt/stratum/pkg/registry"
	"github.com/havenvirt/stratum/pkg/thin"
)

// Volume commands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

// recordOp runs a volume operation with metrics around it.
func recordOp(operation string, fn func() error) error {
	timer := metrics.NewTimer()
	err := fn()
	timer.ObserveDurationVec(metrics.OperationDuration, operation)
	metrics.RecordOperation(operation, err)
	return err
}

// resolveVolume loads the record and handle for pool/owner/name.
func resolveVolume(a *app, cmd *cobra.Command, owner, name string) (*registry.VolumeRecord, *thin.Volume, error) {
	poolName, _ := cmd.Flags().GetString("pool")
	record, err := a.store.GetVolumeByName(poolName, owner, name)
	if err != nil {
		return nil, nil, err
	}
	volume, err := a.volume(record)
	if err != nil {
		return nil, nil, err
	}
	return record, volume, nil
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create OWNER NAME",
	Short: "Register and create a volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name := args[0], args[1]
		poolName, _ := cmd.Flags().GetString("pool")
		sizeStr, _ := cmd.Flags().GetString("size")
		rw, _ := cmd.Flags().GetBool("rw")
		saveOnStop, _ := cmd.Flags().GetBool("save-on-stop")
		snapOnStart, _ := cmd.Flags().GetBool("snap-on-start")
		keep, _ := cmd.Flags().GetInt("revisions-to-keep")
		sourceOwner, _ := cmd.Flags().GetString("source-owner")
		sourceName, _ := cmd.Flags().GetString("source-name")

		var size uint64
		if sizeStr != "" {
			var err error
			if size, err = parseSize(sizeStr); err != nil {
				return err
			}
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.store.GetVolumeByName(poolName, owner, name); err == nil {
			return fmt.Errorf("volume %s/%s/%s already exists", poolName, owner, name)
		}

		record := &registry.VolumeRecord{
			Pool:            poolName,
			Owner:           owner,
			Name:            name,
			Size:            size,
			RW:              rw,
			SaveOnStop:      saveOnStop,
			SnapOnStart:     snapOnStart,
			SourceOwner:     sourceOwner,
			SourceName:      sourceName,
			RevisionsToKeep: keep,
			CreatedAt:       time.Now().UTC(),
		}
		volume, err := a.volume(record)
		if err != nil {
			return err
		}
		err = recordOp("create", func() error {
			return volume.Create(context.Background())
		})
		if err != nil {
			return err
		}
		if err := a.store.CreateVolume(record); err != nil {
			return fmt.Errorf("failed to register volume: %w", err)
		}
		fmt.Printf("Volume '%s' created for '%s' in pool '%s'\n", name, owner, poolName)
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		var records []*registry.VolumeRecord
		if owner != "" {
			records, err = a.store.ListVolumesByOwner(owner)
		} else {
			records, err = a.store.ListVolumes()
		}
		if err != nil {
			return err
		}
		sort.Slice(records, func(i, j int) bool {
			if records[i].Owner != records[j].Owner {
				return records[i].Owner < records[j].Owner
			}
			return records[i].Name < records[j].Name
		})

		ctx := context.Background()
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "OWNER\tNAME\tPOOL\tSIZE\tKIND\tDIRTY")
		for _, record := range records {
			volume, err := a.volume(record)
			if err != nil {
				return err
			}
			size, err := volume.Size(ctx)
			if err != nil {
				return err
			}
			dirty, err := volume.IsDirty(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n",
				record.Owner, record.Name, record.Pool,
				formatSize(size), volumeKind(record), dirty)
		}
		return w.Flush()
	},
}

func volumeKind(record *registry.VolumeRecord) string {
	switch {
	case record.SaveOnStop:
		return "save-on-stop"
	case record.SnapOnStart:
		return "snap-on-start"
	default:
		return "volatile"
	}
}

var volumeStartCmd = &cobra.Command{
	Use:   "start OWNER NAME",
	Short: "Activate a volume for a VM boot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		err = recordOp("start", func() error {
			return volume.Start(context.Background())
		})
		if err != nil {
			return err
		}
		fmt.Println(volume.OverlayPath())
		return nil
	},
}

var volumeStopCmd = &cobra.Command{
	Use:   "stop OWNER NAME",
	Short: "Deactivate a volume, committing pending changes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		return recordOp("stop", func() error {
			return volume.Stop(context.Background())
		})
	},
}

var volumePathCmd = &cobra.Command{
	Use:   "path OWNER NAME",
	Short: "Print the device path of the committed image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		path, err := volume.Path(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var volumeRevisionsCmd = &cobra.Command{
	Use:   "revisions OWNER NAME",
	Short: "List a volume's retained revisions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		revisions, err := volume.Revisions(context.Background())
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(revisions))
		for id := range revisions {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "REVISION\tCREATED")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\n", id, revisions[id])
		}
		return w.Flush()
	},
}

var volumeRevertCmd = &cobra.Command{
	Use:   "revert OWNER NAME",
	Short: "Replace the base image with a revision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		revision, _ := cmd.Flags().GetString("revision")

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		return recordOp("revert", func() error {
			return volume.Revert(context.Background(), revision)
		})
	},
}

var volumeResizeCmd = &cobra.Command{
	Use:   "resize OWNER NAME SIZE",
	Short: "Grow a volume",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := parseSize(args[2])
		if err != nil {
			return err
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		record, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		err = recordOp("resize", func() error {
			return volume.Resize(context.Background(), size)
		})
		if err != nil {
			return err
		}
		record.Size = size
		return a.store.UpdateVolume(record)
	},
}

var volumeRemoveCmd = &cobra.Command{
	Use:   "remove OWNER NAME",
	Short: "Remove a volume and all its revisions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		record, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		err = recordOp("remove", func() error {
			return volume.Remove(context.Background())
		})
		if err != nil {
			return err
		}
		return a.store.DeleteVolume(record.ID)
	},
}

var volumeImportCmd = &cobra.Command{
	Use:   "import OWNER NAME",
	Short: "Replace a volume's content with another volume's image",
	Long: `Replace a volume's content with another volume's committed image.

A source in the same pool is imported as a copy-on-write clone; any
other source is streamed byte for byte. Either way the previous base
is retained as one new revision.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromOwner, _ := cmd.Flags().GetString("from-owner")
		fromName, _ := cmd.Flags().GetString("from-name")
		fromPool, _ := cmd.Flags().GetString("from-pool")

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		record, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		if fromPool == "" {
			fromPool = record.Pool
		}
		sourceRecord, err := a.store.GetVolumeByName(fromPool, fromOwner, fromName)
		if err != nil {
			return err
		}
		source, err := a.volume(sourceRecord)
		if err != nil {
			return err
		}
		err = recordOp("import", func() error {
			return volume.ImportVolume(context.Background(), source)
		})
		if errors.Is(err, thin.ErrBusy) {
			return fmt.Errorf("another import is already running on %s/%s", args[0], args[1])
		}
		return err
	},
}

var volumeVerifyCmd = &cobra.Command{
	Use:   "verify OWNER NAME",
	Short: "Check that a volume's backing image exists",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, volume, err := resolveVolume(a, cmd, args[0], args[1])
		if err != nil {
			return err
		}
		if err := volume.Verify(context.Background()); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeStartCmd)
	volumeCmd.AddCommand(volumeStopCmd)
	volumeCmd.AddCommand(volumePathCmd)
	volumeCmd.AddCommand(volumeRevisionsCmd)
	volumeCmd.AddCommand(volumeRevertCmd)
	volumeCmd.AddCommand(volumeResizeCmd)
	volumeCmd.AddCommand(volumeRemoveCmd)
	volumeCmd.AddCommand(volumeImportCmd)
	volumeCmd.AddCommand(volumeVerifyCmd)

	for _, cmd := range volumeCmd.Commands() {
		cmd.Flags().String("pool", "default", "Pool the volume belongs to")
	}

	volumeCreateCmd.Flags().String("size", "", "Virtual size (bytes, or with K/M/G/T suffix)")
	volumeCreateCmd.Flags().Bool("rw", true, "Writable by its consumer")
	volumeCreateCmd.Flags().Bool("save-on-stop", false, "Commit overlay changes on every stop")
	volumeCreateCmd.Flags().Bool("snap-on-start", false, "Snapshot the source volume at every start")
	volumeCreateCmd.Flags().Int("revisions-to-keep", 1, "Revisions to retain across commits")
	volumeCreateCmd.Flags().String("source-owner", "", "Owner of the source volume")
	volumeCreateCmd.Flags().String("source-name", "", "Name of the source volume")

	volumeListCmd.Flags().String("owner", "", "Only list volumes of this owner")

	volumeRevertCmd.Flags().String("revision", "", "Revision to revert to (defaults to the newest)")

	volumeImportCmd.Flags().String("from-owner", "", "Owner of the source volume")
	volumeImportCmd.Flags().String("from-name", "", "Name of the source volume")
	volumeImportCmd.Flags().String("from-pool", "", "Pool of the source volume (defaults to the target's)")
	volumeImportCmd.MarkFlagRequired("from-owner")
	volumeImportCmd.MarkFlagRequired("from-name")
}
