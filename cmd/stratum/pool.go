package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/havenvirt/stratum/pkg/registry"
)

// Pool commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage thin pools",
}

var poolRegisterCmd = &cobra.Command{
	Use:   "register NAME",
	Short: "Register a thin pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		vg, _ := cmd.Flags().GetString("volume-group")
		thinPool, _ := cmd.Flags().GetString("thin-pool")
		sudo, _ := cmd.Flags().GetBool("sudo")

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.store.GetPoolByName(name); err == nil {
			return fmt.Errorf("pool %s is already registered", name)
		}
		err = a.store.CreatePool(&registry.PoolRecord{
			Name:        name,
			VolumeGroup: vg,
			ThinPool:    thinPool,
			Sudo:        sudo,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to register pool: %w", err)
		}
		fmt.Printf("Pool '%s' registered (%s/%s)\n", name, vg, thinPool)
		return nil
	},
}

var poolDeregisterCmd = &cobra.Command{
	Use:   "deregister NAME",
	Short: "Deregister a thin pool",
	Long: `Deregister a thin pool from Stratum.

The pool's logical volumes are left untouched; only the registration
is removed. Fails while volumes are still registered against the pool.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		record, err := a.store.GetPoolByName(name)
		if err != nil {
			return err
		}
		volumes, err := a.store.ListVolumesByPool(name)
		if err != nil {
			return err
		}
		if len(volumes) > 0 {
			return fmt.Errorf("pool %s still has %d registered volumes", name, len(volumes))
		}
		if err := a.store.DeletePool(record.ID); err != nil {
			return err
		}
		fmt.Printf("Pool '%s' deregistered\n", name)
		return nil
	},
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.store.ListPools()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVOLUME GROUP\tTHIN POOL\tVOLUMES")
		for _, record := range records {
			volumes, err := a.store.ListVolumesByPool(record.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				record.Name, record.VolumeGroup, record.ThinPool, len(volumes))
		}
		return w.Flush()
	},
}

var poolStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show pool capacity and on-disk volumes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		pool, err := a.pool(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		size, err := pool.Size(ctx)
		if err != nil {
			return err
		}
		usage, err := pool.Usage(ctx)
		if err != nil {
			return err
		}
		volumes, err := pool.ListVolumes(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Pool:         %s\n", pool.Name())
		fmt.Printf("Volume group: %s\n", pool.VolumeGroup())
		fmt.Printf("Size:         %s\n", formatSize(size))
		fmt.Printf("Usage:        %s (%.1f%%)\n", formatSize(usage), 100*float64(usage)/float64(size))
		fmt.Printf("Volumes:      %d\n", len(volumes))
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolRegisterCmd)
	poolCmd.AddCommand(poolDeregisterCmd)
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolStatusCmd)

	poolRegisterCmd.Flags().String("volume-group", "", "LVM volume group")
	poolRegisterCmd.Flags().String("thin-pool", "", "Thin pool LV inside the volume group")
	poolRegisterCmd.Flags().Bool("sudo", false, "Run LVM tools through sudo")
	poolRegisterCmd.MarkFlagRequired("volume-group")
	poolRegisterCmd.MarkFlagRequired("thin-pool")
}
