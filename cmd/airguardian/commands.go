package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airguardian/airguardian/internal/config"
	"github.com/airguardian/airguardian/internal/reference"
	"github.com/airguardian/airguardian/internal/utils"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Load configuration from the environment and .env files and print it with credentials masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cfg.Masked(), "", "  ")
			if err != nil {
				return fmt.Errorf("encode configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newNearestCmd() *cobra.Command {
	var (
		lat, lon float64
		path     string
	)
	cmd := &cobra.Command{
		Use:   "nearest",
		Short: "Find the facility closest to a point",
		Example: `  airguardian nearest --lat 33.64 --lon -84.43 --facilities airports.csv
  FACILITIES_CSV=airports.csv airguardian nearest --lat 40.64 --lon -73.78`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				return errors.New("--lat and --lon are required")
			}
			if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				return fmt.Errorf("coordinates out of range: %g, %g", lat, lon)
			}
			if path == "" {
				path = utils.GetenvTrim("FACILITIES_CSV")
			}
			if path == "" {
				return errors.New("no facility dataset; pass --facilities or set FACILITIES_CSV")
			}

			idx, err := reference.LoadFacilities(path)
			if err != nil {
				return err
			}
			fac, dist, ok := idx.Nearest(lat, lon)
			if !ok {
				return fmt.Errorf("facility dataset %s is empty", path)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s (%s)\n", fac.Ident, fac.Name, fac.Type)
			fmt.Fprintf(out, "distance: %.1f nm\n", dist)
			if fac.ElevationFt != nil {
				fmt.Fprintf(out, "elevation: %.0f ft\n", *fac.ElevationFt)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude in decimal degrees")
	cmd.Flags().StringVar(&path, "facilities", "", "OurAirports-style CSV (default $FACILITIES_CSV)")
	return cmd
}
