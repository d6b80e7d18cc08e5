package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"swapquoter/internal/app"
)

var (
	quotePay         string
	quoteReceive     string
	quoteChainID     int64
	quoteToChainID   int64
	quoteAmount      string
	quoteSlippageBps int64
	quoteUser        string
	quoteSelectBest  bool
	quoteMaxAmount   bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Fetch, validate and rank quotes for a single trade",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := quoteOptions()
		if err != nil {
			return err
		}
		return getApp().Quote(cmd.Context(), opts)
	},
}

func quoteOptions() (app.QuoteOptions, error) {
	amount, err := decimal.NewFromString(quoteAmount)
	if err != nil {
		return app.QuoteOptions{}, fmt.Errorf("invalid --amount value: %w", err)
	}
	if !amount.IsPositive() && !quoteMaxAmount {
		return app.QuoteOptions{}, fmt.Errorf("--amount must be positive")
	}
	if quotePay == "" || quoteReceive == "" {
		return app.QuoteOptions{}, fmt.Errorf("--pay and --receive are required")
	}
	if quoteUser == "" {
		return app.QuoteOptions{}, fmt.Errorf("--user is required")
	}

	return app.QuoteOptions{
		PaySymbol:      quotePay,
		ReceiveSymbol:  quoteReceive,
		ChainID:        quoteChainID,
		ReceiveChainID: quoteToChainID,
		Amount:         amount,
		SlippageBps:    quoteSlippageBps,
		UserAddress:    quoteUser,
		SelectBest:     quoteSelectBest,
		MaxAmount:      quoteMaxAmount,
	}, nil
}

func registerQuoteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&quotePay, "pay", "", "Symbol of the token to pay")
	cmd.Flags().StringVar(&quoteReceive, "receive", "", "Symbol of the token to receive")
	cmd.Flags().Int64Var(&quoteChainID, "chain", 1, "Chain id of the pay token")
	cmd.Flags().Int64Var(&quoteToChainID, "to-chain", 0, "Chain id of the receive token (defaults to --chain)")
	cmd.Flags().StringVar(&quoteAmount, "amount", "0", "Amount to pay, in token units")
	cmd.Flags().Int64Var(&quoteSlippageBps, "slippage-bps", 0, "Slippage tolerance in basis points (defaults to config)")
	cmd.Flags().StringVar(&quoteUser, "user", "", "Wallet address quoting on behalf of")
	cmd.Flags().BoolVar(&quoteMaxAmount, "max", false, "Cap the amount by wallet balance before quoting")
}

func init() {
	registerQuoteFlags(quoteCmd)
	quoteCmd.Flags().BoolVar(&quoteSelectBest, "select", false, "Also prepare the best candidate's execution steps")
}
