package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshdurbin/strava-stats/internal/service"
)

var (
	page        int
	perPage     int
	activityTyp string
	startDate   string
	endDate     string
	minKm       float64
	maxKm       float64
	search      string
	weeks       int
	months      int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print all-time statistics over the complete activity history",
	RunE: withService(func(ctx context.Context, svc *service.Service, sess service.Session, cmd *cobra.Command) (any, error) {
		return svc.FullHistoryStats(ctx, sess)
	}),
}

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "Print one filtered page of activities",
	RunE: withService(func(ctx context.Context, svc *service.Service, sess service.Session, cmd *cobra.Command) (any, error) {
		q := service.ActivityQuery{
			Page:      page,
			PerPage:   perPage,
			Type:      activityTyp,
			StartDate: startDate,
			EndDate:   endDate,
			Search:    search,
		}
		if cmd.Flags().Changed("min-km") {
			q.MinDistanceKm = &minKm
		}
		if cmd.Flags().Changed("max-km") {
			q.MaxDistanceKm = &maxKm
		}
		return svc.FetchFilteredActivities(ctx, sess, q)
	}),
}

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Print totals for the last complete weeks",
	RunE: withService(func(ctx context.Context, svc *service.Service, sess service.Session, cmd *cobra.Command) (any, error) {
		return svc.WeeklySummary(ctx, sess, weeks)
	}),
}

var monthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Print totals for the last months",
	RunE: withService(func(ctx context.Context, svc *service.Service, sess service.Session, cmd *cobra.Command) (any, error) {
		return svc.MonthlySummary(ctx, sess, months)
	}),
}

var athleteCmd = &cobra.Command{
	Use:   "athlete",
	Short: "Print Strava's recent, year-to-date and all-time rollups",
	RunE: withService(func(ctx context.Context, svc *service.Service, sess service.Session, cmd *cobra.Command) (any, error) {
		return svc.AthleteStats(ctx, sess)
	}),
}

func init() {
	f := activitiesCmd.Flags()
	f.IntVar(&page, "page", service.DefaultPage, "page number")
	f.IntVar(&perPage, "per-page", service.DefaultPerPage, "activities per page (max 200)")
	f.StringVar(&activityTyp, "type", "", "exact activity type, e.g. Run")
	f.StringVar(&startDate, "start-date", "", "include activities on or after YYYY-MM-DD")
	f.StringVar(&endDate, "end-date", "", "include activities on or before YYYY-MM-DD")
	f.Float64Var(&minKm, "min-km", 0, "minimum distance in km")
	f.Float64Var(&maxKm, "max-km", 0, "maximum distance in km")
	f.StringVar(&search, "search", "", "case-insensitive name substring")

	weeklyCmd.Flags().IntVar(&weeks, "weeks", 4, "number of complete weeks")
	monthlyCmd.Flags().IntVar(&months, "months", 6, "number of months, including the current one")
}

type queryFunc func(ctx context.Context, svc *service.Service, sess service.Session, cmd *cobra.Command) (any, error)

// withService resolves the stored session, runs fn and prints its result as JSON.
// Failures are printed as the same classified error the API returns.
func withService(fn queryFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sqlDB, storage, err := openStorage(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		store, redisClient, err := newCacheStore(ctx, cfg)
		if err != nil {
			return err
		}
		if redisClient != nil {
			defer redisClient.Close()
		}

		result, err := func() (any, error) {
			sess, err := storage.Session(ctx)
			if err != nil {
				return nil, err
			}
			return fn(ctx, newService(cfg, store, nil, nil), sess, cmd)
		}()
		if err != nil {
			f := service.Classify(err)
			if f.RetryAfter > 0 {
				return fmt.Errorf("%s (%s, retry after %ds)", f.Message, f.Kind, f.RetryAfter)
			}
			return fmt.Errorf("%s (%s)", f.Message, f.Kind)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}
