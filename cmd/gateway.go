package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-bakong/app/gateway"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
	"github.com/vibast-solutions/ms-go-bakong/config"
)

var (
	gatewayUserID     string
	gatewayPlanType   string
	gatewayAmount     string
	gatewayCurrency   string
	gatewayAppName    string
	gatewayReason     string
	gatewayMonitorTTL int32
	gatewayAsync      bool
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Call the payments API through the signed gateway client",
}

var gatewayHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check payments API health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.Health(ctx)
		})
	},
}

var gatewayCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a KHQR payment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.CreatePayment(ctx, &types.CreatePaymentRequest{
				UserId:   gatewayUserID,
				PlanType: gatewayPlanType,
				Amount:   gatewayAmount,
				Currency: gatewayCurrency,
				AppName:  gatewayAppName,
			})
		})
	},
}

var gatewayStatusCmd = &cobra.Command{
	Use:   "status <md5>",
	Short: "Check a payment by its md5 hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.GetPaymentStatus(ctx, args[0])
		})
	},
}

var gatewayMonitorCmd = &cobra.Command{
	Use:   "monitor <md5>",
	Short: "Monitor a payment until it settles or times out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.MonitorPayment(ctx, &types.MonitorPaymentRequest{
				Md5Hash:        args[0],
				TimeoutSeconds: gatewayMonitorTTL,
				Async:          gatewayAsync,
			})
		})
	},
}

var gatewayBulkCheckCmd = &cobra.Command{
	Use:   "bulk-check <md5>...",
	Short: "Check up to 50 payments at once",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.BulkCheckPayments(ctx, args)
		})
	},
}

var gatewaySubscriptionCmd = &cobra.Command{
	Use:   "subscription <user-id>",
	Short: "Show a user's subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.GetSubscription(ctx, args[0])
		})
	},
}

var gatewayUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade a subscription",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.UpgradeSubscription(ctx, &types.ChangePlanRequest{UserId: gatewayUserID, NewPlanType: gatewayPlanType, AppName: gatewayAppName})
		})
	},
}

var gatewayDowngradeCmd = &cobra.Command{
	Use:   "downgrade",
	Short: "Schedule a subscription downgrade",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.DowngradeSubscription(ctx, &types.ChangePlanRequest{UserId: gatewayUserID, NewPlanType: gatewayPlanType})
		})
	},
}

var gatewayCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a subscription",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.CancelSubscription(ctx, &types.CancelSubscriptionRequest{UserId: gatewayUserID, Reason: gatewayReason})
		})
	},
}

var gatewayRenewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Create a renewal payment for a subscription",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runGateway(cmd, func(c *gateway.Client, ctx context.Context) (any, error) {
			return c.RenewSubscription(ctx, &types.RenewSubscriptionRequest{UserId: gatewayUserID, AppName: gatewayAppName})
		})
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.AddCommand(
		gatewayHealthCmd,
		gatewayCreateCmd,
		gatewayStatusCmd,
		gatewayMonitorCmd,
		gatewayBulkCheckCmd,
		gatewaySubscriptionCmd,
		gatewayUpgradeCmd,
		gatewayDowngradeCmd,
		gatewayCancelCmd,
		gatewayRenewCmd,
	)

	for _, c := range []*cobra.Command{gatewayCreateCmd, gatewayUpgradeCmd, gatewayDowngradeCmd, gatewayCancelCmd, gatewayRenewCmd} {
		c.Flags().StringVar(&gatewayUserID, "user", "", "User id")
		_ = c.MarkFlagRequired("user")
	}
	for _, c := range []*cobra.Command{gatewayCreateCmd, gatewayUpgradeCmd, gatewayDowngradeCmd} {
		c.Flags().StringVar(&gatewayPlanType, "plan", "", "Plan type (PREMIUM, FAMILY_PREMIUM)")
		_ = c.MarkFlagRequired("plan")
	}
	for _, c := range []*cobra.Command{gatewayCreateCmd, gatewayUpgradeCmd, gatewayRenewCmd} {
		c.Flags().StringVar(&gatewayAppName, "app-name", "", "App name shown in the banking app")
	}
	gatewayCreateCmd.Flags().StringVar(&gatewayAmount, "amount", "", "Amount, defaults to the plan price")
	gatewayCreateCmd.Flags().StringVar(&gatewayCurrency, "currency", "", "Currency (USD, KHR)")
	gatewayCancelCmd.Flags().StringVar(&gatewayReason, "reason", "", "Cancellation reason")
	gatewayMonitorCmd.Flags().Int32Var(&gatewayMonitorTTL, "timeout", 0, "Monitor timeout in seconds")
	gatewayMonitorCmd.Flags().BoolVar(&gatewayAsync, "async", false, "Start monitoring in the background and return immediately")
}

func runGateway(cmd *cobra.Command, fn func(c *gateway.Client, ctx context.Context) (any, error)) error {
	cfg := config.LoadGateway()
	client := gateway.NewClient(gateway.Config{
		BaseURL:          cfg.ServiceURL,
		APIKey:           cfg.APIKey,
		SigningSecret:    cfg.SigningSecret,
		Timeout:          cfg.Timeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := fn(client, ctx)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
	return err
}
