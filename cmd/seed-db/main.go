package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop/internal/domain/announcement"
	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/storage/postgres"
)

type bookJSON struct {
	ISBN            string              `json:"isbn"`
	Title           string              `json:"title"`
	Author          string              `json:"author"`
	Description     string              `json:"description"`
	Genre           string              `json:"genre"`
	CoverURL        string              `json:"coverUrl"`
	Price           decimal.Decimal     `json:"price"`
	Stock           int                 `json:"stock"`
	OnSale          bool                `json:"onSale"`
	DiscountPercent decimal.NullDecimal `json:"discountPercent"`
}

type account struct {
	email, password, name string
	role                  auth.Role
}

func main() {
	var (
		databaseURL   string
		booksFile     string
		adminEmail    string
		adminPassword string
		staffEmail    string
		staffPassword string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&booksFile, "books-file", "db/seed/books.json", "path to books JSON file")
	flag.StringVar(&adminEmail, "admin-email", "admin@bookshop.local", "admin account email")
	flag.StringVar(&adminPassword, "admin-password", "", "admin account password (or BOOKSHOP_SEED_ADMIN_PASSWORD env)")
	flag.StringVar(&staffEmail, "staff-email", "staff@bookshop.local", "staff account email")
	flag.StringVar(&staffPassword, "staff-password", "", "staff account password (or BOOKSHOP_SEED_STAFF_PASSWORD env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminPassword == "" {
		adminPassword = os.Getenv("BOOKSHOP_SEED_ADMIN_PASSWORD")
	}
	if staffPassword == "" {
		staffPassword = os.Getenv("BOOKSHOP_SEED_STAFF_PASSWORD")
	}

	var accounts []account
	if adminPassword != "" {
		accounts = append(accounts, account{adminEmail, adminPassword, "Administrator", auth.RoleAdmin})
	} else {
		slog.Warn("no admin password given, skipping admin account")
	}
	if staffPassword != "" {
		accounts = append(accounts, account{staffEmail, staffPassword, "Counter Staff", auth.RoleStaff})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, booksFile, accounts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, booksFile string, accounts []account) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedBooks(ctx, postgres.NewBookRepository(pool), booksFile); err != nil {
		return errors.Wrap(err, "seed books")
	}

	users := auth.NewService(postgres.NewUserRepository(pool), nil, time.Hour)
	var adminID string
	for _, a := range accounts {
		id, err := seedAccount(ctx, users, a)
		if err != nil {
			return errors.Wrapf(err, "seed %s account", a.role)
		}
		if a.role == auth.RoleAdmin {
			adminID = id
		}
	}

	if err := seedWelcome(ctx, announcement.NewService(postgres.NewAnnouncementRepository(pool)), adminID); err != nil {
		return errors.Wrap(err, "seed announcement")
	}
	return nil
}

func seedBooks(ctx context.Context, repo book.Repository, booksFile string) error {
	slog.Info("reading books file", slog.String("path", booksFile))

	data, err := os.ReadFile(booksFile)
	if err != nil {
		return errors.Wrap(err, "read books file")
	}
	var books []bookJSON
	if err := json.Unmarshal(data, &books); err != nil {
		return errors.Wrap(err, "parse books JSON")
	}

	slog.Info("upserting books", slog.Int("count", len(books)))

	now := time.Now().UTC()
	for _, in := range books {
		b := &book.Book{
			ID:          uuid.NewString(),
			ISBN:        in.ISBN,
			Title:       in.Title,
			Author:      in.Author,
			Description: in.Description,
			Genre:       in.Genre,
			CoverURL:    in.CoverURL,
			Price:       in.Price,
			Stock:       in.Stock,
			Sale:        book.Sale{OnSale: in.OnSale, Percent: in.DiscountPercent},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := b.Validate(); err != nil {
			return errors.Wrapf(err, "book %s", in.ISBN)
		}
		if err := repo.UpsertByISBN(ctx, b); err != nil {
			return errors.Wrapf(err, "upsert book %s", in.ISBN)
		}
		// Upserts keep existing sale settings, so apply them explicitly.
		if in.OnSale {
			if err := repo.Update(ctx, b); err != nil {
				return errors.Wrapf(err, "set sale on %s", in.ISBN)
			}
		}

		slog.Info("upserted book", slog.String("isbn", b.ISBN), slog.String("title", b.Title))
	}
	return nil
}

func seedAccount(ctx context.Context, users *auth.Service, a account) (string, error) {
	u, err := users.CreateUser(ctx, auth.RegisterRequest{
		Email:    a.email,
		Name:     a.name,
		Password: a.password,
	}, a.role)
	if errors.Is(err, auth.ErrEmailTaken) {
		slog.Info("account exists", slog.String("email", a.email))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	slog.Info("created account", slog.String("email", u.Email), slog.String("role", string(u.Role)))
	return u.ID, nil
}

func seedWelcome(ctx context.Context, svc *announcement.Service, authorID string) error {
	existing, err := svc.List(ctx, true)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		slog.Info("announcements exist, skipping welcome message")
		return nil
	}
	_, err = svc.Create(ctx, authorID, announcement.Input{
		Title: "Welcome to the bookshop",
		Body:  "Order online and collect in store with your claim code. Every tenth collected order earns 10% off.",
	})
	return err
}
