package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/dbconfig"
)

// OrderItem mirrors the JSON fixture structure
type OrderItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: seed_orders <table-session-id> <items.json>")
		os.Exit(1)
	}

	sessionID, err := uuid.Parse(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid table session id: %v\n", err)
		os.Exit(1)
	}

	// 1) Load the JSON fixture
	data, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var items []OrderItem
	if err := json.Unmarshal(data, &items); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	pool, err := dbconfig.Connect(ctx, dbconfig.NewConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var (
		total    = len(items)
		inserted int
		skipped  int
		errs     int
	)

	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.New().String()
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO order_items (id, table_session_id, name, quantity, price)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (id) DO NOTHING`,
			id, sessionID, item.Name, item.Quantity, item.Price,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "insert %q: %v\n", item.Name, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 0 {
			skipped++
		} else {
			inserted++
		}
	}

	// 4) Recompute the session total from its items
	if _, err := pool.Exec(ctx, `
        UPDATE table_sessions
        SET total_amount = (
            SELECT COALESCE(SUM(price * quantity), 0)
            FROM order_items
            WHERE table_session_id = $1
        )
        WHERE id = $1`, sessionID,
	); err != nil {
		fmt.Fprintf(os.Stderr, "update session total: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeded %d items: %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs)
	if errs > 0 {
		os.Exit(1)
	}
}
