package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/cachestore"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the variable cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count and payload size",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(store cachestore.Store) error {
			ctx := cmd.Context()
			count, err := store.Count(ctx)
			if err != nil {
				return err
			}
			size, err := store.SizeBytes(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Namespace: %s\n", cfg.Cache.Namespace)
			fmt.Printf("Entries:   %d\n", count)
			fmt.Printf("Size:      %d bytes\n", size)
			return nil
		})
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired and corrupt cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(store cachestore.Store) error {
			res, err := store.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Swept %d expired, %d corrupt\n", res.Expired, res.Corrupt)
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry in the cache namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(store cachestore.Store) error {
			n, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d entries from %s\n", n, cfg.Cache.Namespace)
			return nil
		})
	},
}

func withCache(cmd *cobra.Command, fn func(cachestore.Store) error) error {
	store, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			zap.L().Warn("cache close failed", zap.Error(err))
		}
	}()
	return fn(store)
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
