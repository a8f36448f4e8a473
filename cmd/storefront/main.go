package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/observability"
	"storefront/internal/security/secretbox"
	storepkg "storefront/internal/store"
	"storefront/internal/store/file"
	"storefront/internal/store/memory"
	"storefront/internal/store/postgres"
	"storefront/internal/storefront"
)

const usage = `usage: storefront <command> [flags]

commands:
  products                      list offerable products
  login    --email --password   log in and keep the credential
  signup   --email --password --first-name --last-name
  logout                        forget the credential
  whoami                        show the stored credential
  add      <product-id>         add one unit of a product to the cart
  cart                          show the cart
  checkout                      place an order for the cart
`

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := observability.InitLogger("storefront", cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, closeTokens, err := openCredentialStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("credential store unavailable")
	}
	defer closeTokens()

	client := storefront.New(ctx, storefront.Config{
		APIURL:           cfg.APIURL,
		HTTPTimeout:      cfg.HTTPTimeout,
		OperationTimeout: cfg.OperationTimeout,
		Tokens:           tokens,
		Logger:           logger,
	})

	if err := run(ctx, client, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		var netErr *catalog.NetworkError
		if errors.As(err, &netErr) {
			fmt.Fprintf(os.Stderr, "Error loading products: %v\n", netErr.Err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		closeTokens()
		os.Exit(1)
	}
}

func run(ctx context.Context, client *storefront.Client, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "products":
		return runProducts(ctx, client, out)
	case "login":
		return runLogin(ctx, client, args, out)
	case "signup":
		return runSignup(ctx, client, args, out)
	case "logout":
		if err := client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Logged out.")
		return nil
	case "whoami":
		return runWhoami(client, out)
	case "add":
		return runAdd(ctx, client, args, out)
	case "cart":
		return runCart(ctx, client, out)
	case "checkout":
		return runCheckout(ctx, client, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func runProducts(ctx context.Context, client *storefront.Client, out io.Writer) error {
	if err := client.Start(ctx); err != nil {
		return err
	}
	for _, p := range client.Products() {
		v, _ := p.DefaultVariant()
		fmt.Fprintf(out, "[%d] %s - %s€ (Stock: %d)\n", p.ID, p.Name, p.BasePrice.StringFixed(2), v.StockQuantity)
	}
	return nil
}

func runLogin(ctx context.Context, client *storefront.Client, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	email := fs.StringP("email", "e", "", "account email")
	password := fs.StringP("password", "p", os.Getenv("STOREFRONT_PASSWORD"), "account password (default $STOREFRONT_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login: --email and --password are required")
	}
	cred, err := client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged in as %s.\n", *email)
	if !cred.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "Session valid until %s.\n", cred.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

func runSignup(ctx context.Context, client *storefront.Client, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("signup", pflag.ContinueOnError)
	email := fs.StringP("email", "e", "", "account email")
	password := fs.StringP("password", "p", os.Getenv("STOREFRONT_PASSWORD"), "account password (default $STOREFRONT_PASSWORD)")
	firstName := fs.String("first-name", "", "first name")
	lastName := fs.String("last-name", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("signup: --email and --password are required")
	}
	cred, err := client.Signup(ctx, *email, *password, *firstName, *lastName)
	if err != nil {
		return err
	}
	if cred.Token == "" {
		fmt.Fprintln(out, "Registration successful. Please check your email to verify your account.")
		return nil
	}
	fmt.Fprintf(out, "Registered and logged in as %s.\n", *email)
	return nil
}

func runWhoami(client *storefront.Client, out io.Writer) error {
	cred, ok := client.Credential()
	if !ok {
		fmt.Fprintln(out, "Not logged in.")
		return nil
	}
	if cred.ExpiresAt.IsZero() {
		fmt.Fprintln(out, "Logged in.")
		return nil
	}
	fmt.Fprintf(out, "Logged in, session valid until %s.\n", cred.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func runAdd(ctx context.Context, client *storefront.Client, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("add: expected exactly one product id")
	}
	productID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("add: invalid product id %q", args[0])
	}
	if err := client.Start(ctx); err != nil {
		return err
	}
	line, err := client.AddToCart(ctx, productID)
	if err != nil {
		return err
	}
	p, _ := client.Product(productID)
	v, _ := client.Variant(line.VariantID)
	fmt.Fprintf(out, "Product added to cart: %s (%s), quantity %d.\n", p.Name, v.Size, line.Quantity)
	return nil
}

func runCart(ctx context.Context, client *storefront.Client, out io.Writer) error {
	if err := client.Start(ctx); err != nil {
		return err
	}
	if _, ok := client.Credential(); !ok {
		fmt.Fprintln(out, "Not logged in.")
		return nil
	}
	lines := client.CartLines()
	if len(lines) == 0 {
		fmt.Fprintln(out, "Cart is empty.")
		return nil
	}
	for _, line := range lines {
		name := fmt.Sprintf("variant %d", line.VariantID)
		if v, ok := client.Variant(line.VariantID); ok {
			if p, ok := client.Product(v.ProductID); ok {
				name = fmt.Sprintf("%s (%s)", p.Name, v.Size)
			}
		}
		fmt.Fprintf(out, "%-32s x%d\n", name, line.Quantity)
	}
	fmt.Fprintf(out, "Total: %d item(s)\n", client.Cart().TotalQuantity())
	return nil
}

func runCheckout(ctx context.Context, client *storefront.Client, out io.Writer) error {
	if err := client.Start(ctx); err != nil {
		return err
	}
	order, err := client.Checkout(ctx)
	if err != nil {
		return err
	}
	if order.ID != 0 {
		fmt.Fprintf(out, "Order %d placed, status: %s.\n", order.ID, order.Status)
		return nil
	}
	fmt.Fprintf(out, "Order placed, status: %s.\n", order.Status)
	return nil
}

func openCredentialStore(cfg config.Config) (storepkg.CredentialStore, func(), error) {
	var sealer storepkg.Sealer
	if cfg.TokenEncryptionKey != "" {
		box, err := secretbox.New(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, nil, err
		}
		sealer = box
	}
	noop := func() {}
	switch cfg.CredentialStore {
	case "memory":
		return memory.NewStore(), noop, nil
	case "postgres":
		pg, err := postgres.NewStore(cfg.DatabaseURL, sealer)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		return file.NewStore(cfg.CredentialPath, sealer), noop, nil
	}
}
