package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/adeline-api/internal/config"
	"github.com/noah-isme/adeline-api/internal/database"
	"github.com/noah-isme/adeline-api/internal/dto"
	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/repository"
	"github.com/noah-isme/adeline-api/internal/service"
)

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "adeline-seed",
		Short:         "Question bank tooling for the placement assessment",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newQuestionsCmd(logger))
	return root
}

func newQuestionsCmd(logger zerolog.Logger) *cobra.Command {
	var (
		file    string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Upsert authored questions from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadSeedFile(file)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			db, err := database.ConnectPostgres(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if migrate {
				if err := db.AutoMigrate(&models.Question{}); err != nil {
					return fmt.Errorf("migrate questions: %w", err)
				}
			}

			repo := repository.NewQuestionRepository(db, cfg.StorageTimeout)
			seeder := service.NewSeedService(repo, validator.New(validator.WithRequiredStructEnabled()), false, "", logger)

			affected, err := seeder.ImportQuestions(cmd.Context(), items)
			if err != nil {
				return err
			}

			logger.Info().Str("file", file).Int("questions", len(items)).Int64("affected", affected).Msg("question bank seeded")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a JSON file with a questions array")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Create or update the questions table first")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// loadSeedFile accepts either {"questions": [...]} or a bare array.
func loadSeedFile(path string) ([]dto.QuestionSeedItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var items []dto.QuestionSeedItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode seed file: %w", err)
		}
		return items, nil
	}

	var request dto.QuestionSeedRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if len(request.Questions) == 0 {
		return nil, fmt.Errorf("seed file %s has no questions", path)
	}
	return request.Questions, nil
}
