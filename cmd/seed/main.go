package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
)

// shifts are the working hours a seeded doctor can get.
var shifts = []struct{ start, end string }{
	{"08:00", "16:00"},
	{"09:00", "17:00"},
	{"10:00", "18:00"},
	{"12:00", "20:00"},
}

func main() {
	doctors := flag.Int("doctors", 20, "number of doctor availability profiles to create")
	patients := flag.Int("patients", 5, "number of patient tokens to print")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}
	log := logging.New(cfg.LogLevel)
	log.Info("seed starting")

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	store := appointment.NewPgProfileStore(pool)
	verifier := auth.NewVerifier(cfg.JWTSecret, "telehealth")

	log.Infof("seeding %d doctor profiles", *doctors)
	for i := 0; i < *doctors; i++ {
		profile, err := fakeProfile()
		if err != nil {
			log.WithError(err).Fatal("build profile")
		}
		if err := store.UpsertProfile(ctx, profile); err != nil {
			log.WithError(err).Fatal("upsert profile")
		}

		tok, err := verifier.Issue(auth.Session{UserID: profile.DoctorID, Role: auth.RoleDoctor}, *tokenTTL)
		if err != nil {
			log.WithError(err).Fatal("issue doctor token")
		}
		fmt.Printf("doctor  %s  Dr. %s  %s-%s  %v\n  token: %s\n",
			profile.DoctorID, gofakeit.LastName(), profile.Start.Clock(), profile.End.Clock(), profile.WorkingDays, tok)
	}

	for i := 0; i < *patients; i++ {
		id := uuid.New()
		tok, err := verifier.Issue(auth.Session{UserID: id, Role: auth.RolePatient}, *tokenTTL)
		if err != nil {
			log.WithError(err).Fatal("issue patient token")
		}
		fmt.Printf("patient %s  %s\n  token: %s\n", id, gofakeit.Name(), tok)
	}

	admin, err := verifier.Issue(auth.Session{UserID: uuid.New(), Role: auth.RoleAdmin}, *tokenTTL)
	if err != nil {
		log.WithError(err).Fatal("issue admin token")
	}
	fmt.Printf("admin token: %s\n", admin)

	log.Info("seed complete")
}

// fakeProfile picks a shift and a working week of four to six days. Monday
// to Thursday are always included.
func fakeProfile() (appointment.AvailabilityProfile, error) {
	shift := shifts[gofakeit.Number(0, len(shifts)-1)]
	start, err := appointment.ParseTimeSlot(shift.start)
	if err != nil {
		return appointment.AvailabilityProfile{}, err
	}
	end, err := appointment.ParseTimeSlot(shift.end)
	if err != nil {
		return appointment.AvailabilityProfile{}, err
	}

	days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday}
	if gofakeit.Bool() {
		days = append(days, time.Friday)
	}
	if gofakeit.Number(0, 3) == 0 {
		days = append(days, time.Saturday)
	}

	return appointment.AvailabilityProfile{
		DoctorID:    uuid.New(),
		WorkingDays: days,
		Start:       start,
		End:         end,
	}, nil
}
