package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/caltime"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logger"
)

type seedOptions struct {
	doctors   int
	patients  int
	days      int
	slotMins  int
	printJWTs bool
}

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the database with fake doctors, patients and availability",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctors, "doctors", 20, "Number of doctors to create")
	cmd.Flags().IntVar(&opts.patients, "patients", 500, "Number of patients to create")
	cmd.Flags().IntVar(&opts.days, "days", 7, "Days of availability to publish per doctor, starting tomorrow")
	cmd.Flags().IntVar(&opts.slotMins, "slot-minutes", 30, "Length of each availability slot")
	cmd.Flags().BoolVar(&opts.printJWTs, "tokens", false, "Print a signed token for one doctor and one patient")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New("seed", cfg.Env, cfg.LogLevel)

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(ctx, pool, opts.doctors, log)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	patients, err := seedPatients(ctx, pool, opts.patients, log)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	repo := availability.NewPgRepository(pool, cfg.Location)
	if err := seedAvailability(ctx, repo, doctors, opts, cfg.Location, log); err != nil {
		return fmt.Errorf("seed availability: %w", err)
	}

	if opts.printJWTs && len(doctors) > 0 && len(patients) > 0 {
		if err := printTokens(cfg.JWTSecret, doctors[0], patients[0]); err != nil {
			return err
		}
	}

	log.Info().Msg("seed complete")
	return nil
}

type account struct {
	ID    uuid.UUID
	Email string
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]account, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]account, 0, count)
	for i := 0; i < count; i++ {
		first, last := gofakeit.FirstName(), gofakeit.LastName()
		acct := account{ID: uuid.New(), Email: fakeEmail(first, last, "clinic.test")}
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, first_name, last_name, email, specialization, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, acct.ID, first, last, acct.Email, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("doctors seeded")
	return out, nil
}

// seedPatients streams rows with COPY; the batch is one statement either way.
func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]account, error) {
	log.Info().Int("count", count).Msg("seeding patients")

	out := make([]account, 0, count)
	rows := make([][]any, 0, count)
	for i := 0; i < count; i++ {
		first, last := gofakeit.FirstName(), gofakeit.LastName()
		acct := account{ID: uuid.New(), Email: fakeEmail(first, last, "patients.test")}
		dob := gofakeit.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-18, 0, 0))

		rows = append(rows, []any{acct.ID, first, last, acct.Email, gofakeit.Phone(), dob})
		out = append(out, acct)
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "first_name", "last_name", "email", "phone_number", "date_of_birth"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("rows", n).Msg("patients seeded")
	return out, nil
}

// seedAvailability publishes back-to-back slots from 09:00 to 17:00 local
// time on weekdays.
func seedAvailability(ctx context.Context, repo *availability.PgRepository, doctors []account, opts seedOptions, loc *time.Location, log zerolog.Logger) error {
	if opts.slotMins <= 0 {
		return fmt.Errorf("slot-minutes must be > 0")
	}
	length := time.Duration(opts.slotMins) * time.Minute
	first := caltime.DateOf(time.Now().In(loc)).AddDays(1)

	total := 0
	for _, doc := range doctors {
		for d := 0; d < opts.days; d++ {
			day := first.AddDays(d).In(loc)
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			start := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, loc)
			closing := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, loc)
			for ; !start.Add(length).After(closing); start = start.Add(length) {
				_, err := repo.Insert(ctx, &availability.Slot{
					ID:        uuid.New(),
					DoctorID:  doc.ID,
					StartTime: start,
					EndTime:   start.Add(length),
				})
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	log.Info().Int("slots", total).Msg("availability seeded")
	return nil
}

func printTokens(secret string, doctor, patient account) error {
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}

	for _, ident := range []auth.Identity{
		{ID: doctor.ID, Email: doctor.Email, Role: auth.RoleDoctor},
		{ID: patient.ID, Email: patient.Email, Role: auth.RolePatient},
	} {
		tok, err := auth.Sign(secret, ident, claims)
		if err != nil {
			return fmt.Errorf("sign %s token: %w", ident.Role, err)
		}
		fmt.Printf("%-8s %s\n%s\n\n", ident.Role, ident.ID, tok)
	}
	return nil
}

// fakeEmail keeps generated addresses unique across reruns.
func fakeEmail(first, last, domain string) string {
	local := strings.ToLower(first + "." + last)
	return fmt.Sprintf("%s.%s@%s", local, uuid.NewString()[:8], domain)
}
