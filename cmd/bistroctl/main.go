// bistroctl drives the client core against a running backend: sign in, run a
// checkout, watch an order's status stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"bistro/internal/checkout"
	"bistro/internal/config"
	"bistro/internal/domain"
	"bistro/internal/logging"
	"bistro/internal/session"
	"bistro/internal/stream"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: bistroctl <command> [flags]

commands:
  balance                     print the loyalty-point balance
  checkout [-discount] [-method cash|card]
                              pay for a demo cart and print the receipt
  watch -order <id>           follow an order's status stream
  advance -order <id> -status <RECEIVED|PREPARING|READY|CANCELLED>
                              kitchen-side status transition (dev backend)

common flags: -email, -password (default to the dev demo account)
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	email := flags.String("email", cfg.DemoEmail, "account email")
	password := flags.String("password", cfg.DemoPassword, "account password")
	orderID := flags.String("order", "", "order id")
	status := flags.String("status", "", "new order status")
	discount := flags.Bool("discount", false, "request the loyalty discount")
	method := flags.String("method", "cash", "payment method (cash|card)")
	_ = flags.Parse(os.Args[2:])

	creds := session.NewCredentialStore()
	client := session.NewClient(cfg.BaseURL, cfg.HTTPTimeout, creds, log)

	ctx := context.Background()
	if err := client.Login(ctx, *email, *password); err != nil {
		log.WithError(err).Fatal("login failed")
	}
	defer client.Logout(context.Background())

	switch command {
	case "balance":
		runBalance(ctx, client, log)
	case "checkout":
		runCheckout(ctx, client, log, *discount, domain.PaymentMethod(*method))
	case "watch":
		runWatch(cfg, creds, log, *orderID)
	case "advance":
		runAdvance(ctx, client, log, *orderID, *status)
	default:
		usage()
	}
}

func runBalance(ctx context.Context, client *session.Client, log *logrus.Logger) {
	orchestrator := checkout.New(client, log)
	points, err := orchestrator.Balance(ctx)
	if err != nil {
		log.WithError(err).Fatal("balance lookup failed")
	}
	fmt.Printf("loyalty balance: %d points\n", points)
}

func runCheckout(ctx context.Context, client *session.Client, log *logrus.Logger, discount bool, method domain.PaymentMethod) {
	orchestrator := checkout.New(client, log)
	if _, err := orchestrator.Balance(ctx); err != nil {
		log.WithError(err).Fatal("balance lookup failed")
	}

	cart := domain.CartSnapshot{
		{ItemID: "espresso", UnitPrice: 79, Quantity: 2, PrepMinutes: 5, PointsPerUnit: 2},
		{ItemID: "club-sandwich", UnitPrice: 240, Quantity: 1, PrepMinutes: 15, PointsPerUnit: 6},
	}
	receipt, err := orchestrator.Checkout(ctx, cart, checkout.Options{
		RequestDiscount: discount,
		Method:          method,
	})
	if err != nil {
		log.WithError(err).Fatal("checkout failed")
	}

	fmt.Printf("order %s\n", receipt.OrderID)
	fmt.Printf("  charged:            %d\n", receipt.AmountCharged)
	fmt.Printf("  discount applied:   %d\n", receipt.DiscountApplied)
	fmt.Printf("  points earned:      %d\n", receipt.PointsEarned)
	fmt.Printf("  points balance:     %d\n", receipt.PointsBalanceAfter)
	fmt.Printf("  ready in (minutes): %d\n", receipt.EstimatedReadyMinutes)
}

func runWatch(cfg config.Config, creds *session.CredentialStore, log *logrus.Logger, orderID string) {
	if orderID == "" {
		log.Fatal("watch needs -order")
	}
	channel := stream.NewChannel(cfg.BaseURL, creds, cfg.StreamRetryBase, cfg.StreamRetryMax, log)
	channel.StateListener = func(id string, state stream.SubscriptionState) {
		log.WithField("order_id", id).Debugf("stream %s", state)
	}
	sub := channel.Subscribe(orderID)
	defer sub.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				fmt.Println("stream ended")
				return
			}
			if ev.ETA != nil {
				fmt.Printf("order %s is now %s (eta %s)\n", ev.OrderID, ev.Status, ev.ETA.Local().Format("15:04"))
			} else {
				fmt.Printf("order %s is now %s\n", ev.OrderID, ev.Status)
			}
		case <-stop:
			return
		}
	}
}

func runAdvance(ctx context.Context, client *session.Client, log *logrus.Logger, orderID, status string) {
	if orderID == "" || status == "" {
		log.Fatal("advance needs -order and -status")
	}
	if !domain.OrderStatus(status).Valid() {
		log.Fatalf("unknown status %q", status)
	}
	err := client.Post(ctx, "/orders/"+orderID+"/status", map[string]string{"status": status}, nil)
	if err != nil {
		log.WithError(err).Fatal("status update failed")
	}
	fmt.Printf("order %s advanced to %s\n", orderID, status)
}
