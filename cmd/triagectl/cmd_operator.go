package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/persistence"
	"github.com/supportops/mailtriage/internal/repository"
	"github.com/supportops/mailtriage/internal/service"
)

var (
	operatorName     string
	operatorEmail    string
	operatorPassword string
	operatorRole     string
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Operator account management",
}

var operatorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an operator account",
	Long: "Creates an operator directly in the database. Use it to bootstrap the\n" +
		"first admin; further accounts can be created over the API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if operatorEmail == "" || operatorPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}
		role := domain.OperatorRole(operatorRole)
		if role != domain.OperatorRoleAgent && role != domain.OperatorRoleAdmin {
			return fmt.Errorf("unknown role %q", operatorRole)
		}

		cfg, logger, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx := context.Background()
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()

		authService := service.NewAuthService(*cfg, service.AuthDependencies{
			OperatorRepo: repository.NewOperatorRepository(pg.PoolHandle()),
			ResetRepo:    repository.NewPasswordResetRepository(pg.PoolHandle()),
		})
		operator, err := authService.CreateOperator(ctx, operatorName, operatorEmail, operatorPassword, role)
		if err != nil {
			return fmt.Errorf("create operator: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created operator %s (%s, %s)\n",
			operator.ID, operator.Email, operator.Role)
		return nil
	},
}

var operatorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operator accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx := context.Background()
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()

		authService := service.NewAuthService(*cfg, service.AuthDependencies{
			OperatorRepo: repository.NewOperatorRepository(pg.PoolHandle()),
			ResetRepo:    repository.NewPasswordResetRepository(pg.PoolHandle()),
		})
		operators, err := authService.ListOperators(ctx)
		if err != nil {
			return fmt.Errorf("list operators: %w", err)
		}

		for _, op := range operators {
			state := "active"
			if !op.Active {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n",
				op.ID, op.Email, op.Name, op.Role, state)
		}
		return nil
	},
}

func init() {
	operatorCreateCmd.Flags().StringVar(&operatorName, "name", "", "Display name")
	operatorCreateCmd.Flags().StringVar(&operatorEmail, "email", "", "Login email")
	operatorCreateCmd.Flags().StringVar(&operatorPassword, "password", "", "Initial password")
	operatorCreateCmd.Flags().StringVar(&operatorRole, "role", string(domain.OperatorRoleAgent), "Role: agent or admin")

	operatorCmd.AddCommand(operatorCreateCmd)
	operatorCmd.AddCommand(operatorListCmd)
}
