package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/orchestrator"
)

var (
	assessLat         float64
	assessLon         float64
	assessAddress     string
	assessSources     []string
	assessHazards     []string
	assessProjections bool
	assessOutput      string
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess natural hazard risk for a point or address",
	Example: `  hazard-risk assess --lat 29.7604 --lon -95.3698
  hazard-risk assess --address "1600 Pennsylvania Ave NW, Washington, DC" --hazards flood,heat --output yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		in, opts, err := assessRequest(cmd)
		if err != nil {
			return err
		}

		eng, err := newEngine(ctx, cfg, engineOptions{})
		if err != nil {
			return err
		}
		defer eng.Close()

		ra, err := eng.Manager.Assess(ctx, in, opts)
		if err != nil {
			return eris.Wrap(err, "assess")
		}
		return writeOutput(cmd.OutOrStdout(), assessOutput, ra)
	},
}

// assessRequest builds the input from flags. Coordinates count as given
// only when their flags were set, so 0,0 is a valid point.
func assessRequest(cmd *cobra.Command) (model.Input, orchestrator.Options, error) {
	var in model.Input
	if cmd.Flags().Changed("lat") {
		lat := assessLat
		in.Lat = &lat
	}
	if cmd.Flags().Changed("lon") {
		lon := assessLon
		in.Lon = &lon
	}
	in.Address = assessAddress
	if err := in.Validate(); err != nil {
		return in, orchestrator.Options{}, err
	}

	hazards, err := model.ParseHazards(assessHazards)
	if err != nil {
		return in, orchestrator.Options{}, err
	}
	return in, orchestrator.Options{
		Sources:            assessSources,
		IncludeProjections: assessProjections,
		HazardFilter:       hazards,
	}, nil
}

func init() {
	assessCmd.Flags().Float64Var(&assessLat, "lat", 0, "latitude (WGS84)")
	assessCmd.Flags().Float64Var(&assessLon, "lon", 0, "longitude (WGS84)")
	assessCmd.Flags().StringVar(&assessAddress, "address", "", "street address to geocode")
	assessCmd.Flags().StringSliceVar(&assessSources, "sources", nil, "restrict to these sources (default all configured)")
	assessCmd.Flags().StringSliceVar(&assessHazards, "hazards", nil, "restrict to these hazards")
	assessCmd.Flags().BoolVar(&assessProjections, "projections", false, "include projected future scores")
	assessCmd.Flags().StringVarP(&assessOutput, "output", "o", "json", "output format: json or yaml")
	assessCmd.MarkFlagsRequiredTogether("lat", "lon")
	rootCmd.AddCommand(assessCmd)
}
