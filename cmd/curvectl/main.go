package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/curvefeed/curvefeed/pkg/curve"
)

var rootCmd = &cobra.Command{
	Use:   "curvectl",
	Short: "Inspect bonding-curve prices, trade costs and liquidation levels",
	Long: `curvectl evaluates the pricing curve offline. It answers the same
questions the node answers for live markets:

  - What is the spot price at a given supply?
  - What does a buy or sell of a given size cost or return?
  - At what price does a position get liquidated?`,
}

var priceCmd = &cobra.Command{
	Use:   "price <supply>",
	Short: "Spot price at a supply level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		supply, err := parseFloat(args[0], "supply")
		if err != nil {
			return err
		}
		fmt.Printf("%.6f\n", curve.Price(supply))
		return nil
	},
}

var costCmd = &cobra.Command{
	Use:   "cost <supply> <quantity>",
	Short: "Cost of a buy (or proceeds of a sell) at a supply level",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		supply, err := parseFloat(args[0], "supply")
		if err != nil {
			return err
		}
		quantity, err := parseFloat(args[1], "quantity")
		if err != nil {
			return err
		}
		if quantity <= 0 {
			return fmt.Errorf("quantity must be positive, got %v", quantity)
		}

		sell, _ := cmd.Flags().GetBool("sell")
		amount := quantity
		if sell {
			amount = -quantity
		}
		c, err := curve.TradeCost(supply, amount)
		if err != nil {
			return err
		}
		if sell {
			fmt.Printf("proceeds: %.6f\n", c)
		} else {
			fmt.Printf("cost: %.6f\n", c)
		}
		return nil
	},
}

var liqCmd = &cobra.Command{
	Use:   "liq <balance> <realized-pnl> <size> <avg-price>",
	Short: "Liquidation price for a position",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals := make([]float64, 4)
		names := []string{"balance", "realized-pnl", "size", "avg-price"}
		for i, a := range args {
			v, err := parseFloat(a, names[i])
			if err != nil {
				return err
			}
			vals[i] = v
		}

		price, ok := curve.LiquidationPrice(vals[0], vals[1], vals[2], vals[3])
		if !ok {
			fmt.Println("no liquidation level")
			return nil
		}
		fmt.Printf("liquidation price: %.6f\n", price)
		return nil
	},
}

func parseFloat(s, name string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func init() {
	costCmd.Flags().Bool("sell", false, "price a sell instead of a buy")
	rootCmd.AddCommand(priceCmd, costCmd, liqCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
