package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"marketplace-backend/internal/config"
	"marketplace-backend/internal/domain"
)

// Store is the durable AuctionStore and ProductCatalog over MySQL. Every
// mutating operation is conditional SQL, so the invariants hold without any
// process-level locking.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open dials MySQL with the configured pool limits and verifies the
// connection.
func Open(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

const auctionColumns = `id, product_id, seller_id, start_price, min_increment,
        start_at, end_at, current_price, status, end_extended_count, created_at, updated_at`

func scanAuction(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Auction, error) {
	var a domain.Auction
	var status string

	err := row.Scan(&a.ID, &a.ProductID, &a.SellerID, &a.StartPrice, &a.MinIncrement,
		&a.StartAt, &a.EndAt, &a.CurrentPrice, &status, &a.EndExtendedCount,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AuctionStatus(status)
	return &a, nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(s.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return auction, nil
}

func (s *Store) GetAuctionWithBids(ctx context.Context, auctionID string) (*domain.Auction, []*domain.Bid, error) {
	auction, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}

	query := `
        SELECT id, auction_id, bidder_id, amount, created_at
        FROM bids
        WHERE auction_id = ?
        ORDER BY created_at ASC, id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, nil, err
		}
		bids = append(bids, &b)
	}
	return auction, bids, rows.Err()
}

func (s *Store) ListAuctionsByStatus(ctx context.Context, status domain.AuctionStatus, page, pageSize int) ([]*domain.Auction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

func (s *Store) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock the product row; the type flip and the auction insert commit
	// together or not at all.
	var productType, productStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT type, status FROM products WHERE id = ? FOR UPDATE`,
		auction.ProductID).Scan(&productType, &productStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	p := domain.Product{
		Type:   domain.ProductType(productType),
		Status: domain.ProductStatus(productStatus),
	}
	if !p.Biddable() {
		return domain.ErrConflict
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auctions WHERE product_id = ?`,
		auction.ProductID).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		return domain.ErrConflict
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products SET type = ? WHERE id = ?`,
		string(domain.ProductAuction), auction.ProductID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO auctions (`+auctionColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		auction.ID, auction.ProductID, auction.SellerID,
		auction.StartPrice, auction.MinIncrement,
		auction.StartAt, auction.EndAt, auction.CurrentPrice,
		string(auction.Status), auction.EndExtendedCount,
		auction.CreatedAt, auction.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) CommitBid(ctx context.Context, auctionID string, expectedPrice float64, bid *domain.Bid) (*domain.Auction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Optimistic compare-and-commit: the guarded UPDATE is the race arbiter.
	// A concurrent bid changes current_price first and this one matches zero
	// rows.
	res, err := tx.ExecContext(ctx, `
        UPDATE auctions
        SET current_price = ?, updated_at = ?
        WHERE id = ? AND current_price = ? AND status = ?
    `, bid.Amount, time.Now(), auctionID, expectedPrice, string(domain.AuctionRunning))
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a lost race from a missing auction.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM auctions WHERE id = ?`, auctionID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.CreatedAt)
	if err != nil {
		return nil, err
	}

	auction, err := scanAuction(tx.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, auctionID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return auction, nil
}

func (s *Store) TransitionStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE auctions SET status = ?, updated_at = ?
        WHERE id = ? AND status = ?
    `, string(to), time.Now(), auctionID, string(from))
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ExtendEndTime(ctx context.Context, auctionID string, newEndAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE auctions
        SET end_at = ?, end_extended_count = end_extended_count + 1, updated_at = ?
        WHERE id = ? AND status = ? AND end_at < ?
    `, newEndAt, time.Now(), auctionID, string(domain.AuctionRunning), newEndAt)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListDueToStart(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.listDue(ctx, domain.AuctionScheduled, "start_at", now)
}

func (s *Store) ListDueToEnd(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.listDue(ctx, domain.AuctionRunning, "end_at", now)
}

func (s *Store) listDue(ctx context.Context, status domain.AuctionStatus, boundary string, now time.Time) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
        WHERE status = ? AND ` + boundary + ` <= ?
        ORDER BY ` + boundary + ` ASC`

	rows, err := s.db.QueryContext(ctx, query, string(status), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	var pType, pStatus string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, type, status FROM products WHERE id = ?`,
		productID).Scan(&p.ID, &p.SellerID, &pType, &pStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Type = domain.ProductType(pType)
	p.Status = domain.ProductStatus(pStatus)
	return &p, nil
}
