package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/database"
	"github.com/stemsi/exstem-integrity/internal/logger"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/service"
)

// seed-demo creates one teacher, a handful of students and a published exam
// with auto-termination, then prints bearer tokens for trying the API by hand.
func main() {
	var (
		students      int
		maxViolations int
		duration      int
	)
	flag.IntVar(&students, "students", 5, "Number of demo students to create")
	flag.IntVar(&maxViolations, "max-violations", 3, "Violations before an attempt is auto-submitted")
	flag.IntVar(&duration, "duration", 30, "Exam duration in minutes")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	fmt.Println("=== Seeding Integrity Demo ===")

	var teacherID int
	err = pool.QueryRow(ctx,
		`INSERT INTO admins (name, email) VALUES ($1, $2)
		 ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		"Ibu Ratna Dewi", "ratna.dewi@exstem.local",
	).Scan(&teacherID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to upsert teacher")
	}

	now := time.Now().UTC()
	end := now.Add(3 * time.Hour)
	var examID uuid.UUID
	err = pool.QueryRow(ctx,
		`INSERT INTO exams (title, author_id, status, duration_minutes, scheduled_start, scheduled_end,
			auto_terminate_on_violations, max_violations)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		 RETURNING id`,
		fmt.Sprintf("Demo Ujian %s", now.Format("2006-01-02 15:04")), teacherID, model.ExamStatusPublished,
		duration, now, end, maxViolations,
	).Scan(&examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	teacherToken, err := authService.IssueToken(service.TokenTypeTeacher, teacherID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue teacher token")
	}

	fmt.Printf("\nExam:    %s (ends %s)\n", examID, end.Format(time.RFC3339))
	fmt.Printf("Teacher: id=%d\n  token=%s\n\n", teacherID, teacherToken)

	names := []string{
		"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
		"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	}

	for i := 0; i < students; i++ {
		name := names[i%len(names)]
		nisn := fmt.Sprintf("demo%04d", i+1)

		var studentID int
		err := pool.QueryRow(ctx,
			`INSERT INTO students (nisn, name) VALUES ($1, $2)
			 ON CONFLICT (nisn) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`,
			nisn, name,
		).Scan(&studentID)
		if err != nil {
			fmt.Printf("Error creating student %s (NISN: %s): %v\n", name, nisn, err)
			continue
		}

		token, err := authService.IssueToken(service.TokenTypeStudent, studentID)
		if err != nil {
			fmt.Printf("Error issuing token for %s: %v\n", name, err)
			continue
		}
		fmt.Printf("Student %-16s id=%d\n  token=%s\n", name, studentID, token)
	}

	fmt.Printf("\nSeed completed! max_violations=%d duration=%dm\n", maxViolations, duration)
}
