package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/books"
	"github.com/angelmondragon/bookitzzz-backend/internal/users"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/bookitzzz-backend/pkg/db/types"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/security"
)

const (
	DefaultAdminEmail = "admin@example.com"
	LibrarianEmail    = "librarian@example.com"
	DefaultPassword   = "password123"
	DefaultBookCount  = 200
	memberCount       = 10
	maxCopies         = 5
)

var (
	genres    = []string{"Fiction", "Nonfiction", "Sci-Fi", "Fantasy", "History", "Biography"}
	firstName = []string{"Ada", "Grace", "Alan", "Octavia", "Ursula", "Toni", "James", "Chinua", "Italo", "Jorge"}
	lastName  = []string{"Lovelace", "Hopper", "Turing", "Butler", "Le Guin", "Morrison", "Baldwin", "Achebe", "Calvino", "Borges"}
	words     = []string{"silent", "river", "empire", "glass", "winter", "garden", "machine", "harbor", "shadow", "atlas", "ember", "orchard", "signal", "stone", "tide"}
	presses   = []string{"Northwind Press", "Harbor House", "Lantern Books", "Gray Owl Publishing", "Meridian"}
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Params struct {
	DB        txRunner
	Users     *users.Repository
	Books     *books.Repository
	Passwords config.PasswordConfig
	Logger    *logger.Logger
}

// Options tune a seed run. Zero values pick the defaults.
type Options struct {
	AdminEmail string
	Password   string
	Books      int
	RandSeed   uint64
}

type Result struct {
	Users        int `json:"users"`
	BooksCreated int `json:"booksCreated"`
	BooksSkipped int `json:"booksSkipped"`
}

type Seeder struct {
	db        txRunner
	users     *users.Repository
	books     *books.Repository
	passwords config.PasswordConfig
	logg      *logger.Logger
}

func New(params Params) (*Seeder, error) {
	if params.DB == nil || params.Users == nil || params.Books == nil {
		return nil, fmt.Errorf("db, users and books are required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Seeder{
		db:        params.DB,
		users:     params.Users,
		books:     params.Books,
		passwords: params.Passwords,
		logg:      params.Logger,
	}, nil
}

// Run upserts the staff and member accounts and inserts generated books.
// Book ISBNs are derived from RandSeed, so re-running with the same seed
// skips books that already exist.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	opts = withDefaults(opts)
	hash, err := security.HashPassword(opts.Password, s.passwords)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}

	rng := rand.New(rand.NewPCG(opts.RandSeed, opts.RandSeed^0x9e3779b97f4a7c15))
	accounts := []users.CreateUserDTO{
		{Email: opts.AdminEmail, Name: "Admin User", Role: enums.UserRoleAdmin, PasswordHash: hash},
		{Email: LibrarianEmail, Name: "Head Librarian", Role: enums.UserRoleLibrarian, PasswordHash: hash},
	}
	for i := 0; i < memberCount; i++ {
		accounts = append(accounts, users.CreateUserDTO{
			Email:        fmt.Sprintf("member%d@example.com", i),
			Name:         personName(rng),
			Role:         enums.UserRoleMember,
			PasswordHash: hash,
		})
	}

	result := &Result{}
	for _, account := range accounts {
		if _, err := s.users.Upsert(ctx, account); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", account.Email, err)
		}
		result.Users++
	}

	catalog := make([]*models.Book, 0, opts.Books)
	isbns := make([]string, 0, opts.Books)
	for i := 0; i < opts.Books; i++ {
		book := generateBook(rng)
		catalog = append(catalog, book)
		isbns = append(isbns, *book.ISBN)
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		existing, err := s.books.LiveISBNs(ctx, tx, isbns)
		if err != nil {
			return err
		}
		for _, book := range catalog {
			if _, ok := existing[*book.ISBN]; ok {
				result.BooksSkipped++
				continue
			}
			existing[*book.ISBN] = struct{}{}
			if err := s.books.Create(ctx, tx, book); err != nil {
				return fmt.Errorf("insert book %q: %w", book.Title, err)
			}
			result.BooksCreated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"users":         result.Users,
		"books_created": result.BooksCreated,
		"books_skipped": result.BooksSkipped,
	}), "seed complete")
	return result, nil
}

func withDefaults(opts Options) Options {
	if strings.TrimSpace(opts.AdminEmail) == "" {
		opts.AdminEmail = DefaultAdminEmail
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	if opts.Books < 0 {
		opts.Books = 0
	} else if opts.Books == 0 {
		opts.Books = DefaultBookCount
	}
	if opts.RandSeed == 0 {
		opts.RandSeed = 1
	}
	return opts
}

func personName(rng *rand.Rand) string {
	return pick(rng, firstName) + " " + pick(rng, lastName)
}

func generateBook(rng *rand.Rand) *models.Book {
	title := sentence(rng, 2+rng.IntN(4))
	subtitle := sentence(rng, 3+rng.IntN(5))
	description := "A story of " + sentence(rng, 6) + " and " + sentence(rng, 5) + "."
	publisher := pick(rng, presses)
	isbn := fmt.Sprintf("978%010d", rng.Int64N(10_000_000_000))
	published := time.Date(2005+rng.IntN(20), time.Month(1+rng.IntN(12)), 1+rng.IntN(28), 0, 0, 0, 0, time.UTC)
	cover := fmt.Sprintf("https://images.unsplash.com/photo-%06d", rng.IntN(1_000_000))
	total := 1 + rng.IntN(maxCopies)
	return &models.Book{
		Title:           title,
		Subtitle:        &subtitle,
		Authors:         dbtypes.StringArray{personName(rng)},
		Description:     &description,
		ISBN:            &isbn,
		Publisher:       &publisher,
		PublishedAt:     &published,
		Genres:          dbtypes.StringArray{pick(rng, genres)},
		CoverURL:        &cover,
		CopiesTotal:     total,
		CopiesAvailable: rng.IntN(total + 1),
	}
}

func sentence(rng *rand.Rand, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = pick(rng, words)
	}
	parts[0] = strings.ToUpper(parts[0][:1]) + parts[0][1:]
	return strings.Join(parts, " ")
}

func pick(rng *rand.Rand, from []string) string {
	return from[rng.IntN(len(from))]
}
