package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

func main() {
	var (
		studentID int
		examID    string
		category  string
		classID   int
		yes       bool
	)
	flag.IntVar(&studentID, "student", 0, "Student ID")
	flag.StringVar(&examID, "exam", "", "Exam ID")
	flag.StringVar(&category, "category", model.CategoryAll, "Question category")
	flag.IntVar(&classID, "class", 0, "Class ID embedded in issued tokens")
	flag.BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	repo := repository.NewRedisAttemptRepository(rdb, cfg.AttemptTTL)

	switch args[0] {
	case "show":
		ref := requireRef(studentID, examID)
		if err := show(ctx, repo, model.NewAttemptKey(ref.StudentID, ref.ExamID, category)); err != nil {
			log.Fatal().Err(err).Msg("Show failed")
		}
	case "reset":
		ref := requireRef(studentID, examID)
		if !yes && !confirm(fmt.Sprintf("Delete every attempt of student %d on exam %s?", ref.StudentID, ref.ExamID)) {
			fmt.Println("Aborted")
			return
		}
		n, err := repo.Reset(ctx, ref)
		if err != nil {
			log.Fatal().Err(err).Msg("Reset failed")
		}
		fmt.Printf("Removed %d key(s)\n", n)
	case "token":
		if studentID <= 0 {
			fmt.Println("Error: -student is required")
			os.Exit(2)
		}
		token, err := service.NewAuthService(cfg, rdb).IssueStudentToken(studentID, classID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue token")
		}
		fmt.Println(token)
	default:
		printUsage()
		os.Exit(2)
	}
}

func requireRef(studentID int, examID string) model.ExamRef {
	if studentID <= 0 || examID == "" {
		fmt.Println("Error: -student and -exam are required")
		os.Exit(2)
	}
	return model.ExamRef{StudentID: studentID, ExamID: examID}
}

func show(ctx context.Context, repo *repository.RedisAttemptRepository, key model.AttemptKey) error {
	ref := key.Exam()
	keys, err := repo.Keys(ctx, ref)
	if err != nil {
		return err
	}
	status, _, err := repo.LoadStatus(ctx, ref)
	if err != nil {
		return err
	}
	state, found, err := repo.Load(ctx, key)
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"attempt": key.String(),
		"keys":    keys,
		"status":  status,
	}
	if found {
		out["state"] = state
	}

	enc := json.NewEncoder(os.Stdout)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}

// confirm asks on the terminal. Without one there is nobody to ask, so
// destructive commands need -yes.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("Error: stdin is not a terminal, pass -yes to confirm")
		return false
	}
	fmt.Print(question + " [y/N]: ")
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func printUsage() {
	fmt.Println("Usage: attemptctl [flags] <command>")
	fmt.Println("Commands:")
	fmt.Println("  show    Print the stored attempt of -student on -exam")
	fmt.Println("  reset   Delete every stored attempt of -student on -exam")
	fmt.Println("  token   Issue a student token for -student (and -class)")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
