// Package market implements a marketplace where users list inventory items
// for sale and buy each other's listings. All cross key mutations run on the
// optimistic redis.Runner so a listing is never lost or sold twice and
// balances never go negative.
package market

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"
	"github.com/shopspring/decimal"

	kv "github.com/datatrails/go-datatrails-ledger/redis"
)

const (
	defaultListTimeout     = 5 * time.Second
	defaultPurchaseTimeout = 10 * time.Second

	fundsField = "funds"
	// listings are identified by item and seller joined with this
	listingSeparator = "."
)

var (
	ErrInvalidPrice = errors.New("price must be positive")
)

// Listing is one item on sale.
type Listing struct {
	ItemID   string
	SellerID string
	Price    float64
}

type Option func(*Ledger)

func WithListTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.listTimeout = d
	}
}

func WithPurchaseTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.purchaseTimeout = d
	}
}

// WithRunnerOptions passes options, eg an observer, to the transaction runner.
func WithRunnerOptions(opts ...kv.RunnerOption) Option {
	return func(l *Ledger) {
		l.runnerOpts = append(l.runnerOpts, opts...)
	}
}

type Ledger struct {
	log             Logger
	client          kv.Client
	keys            kv.Keyspace
	runner          *kv.Runner
	runnerOpts      []kv.RunnerOption
	listTimeout     time.Duration
	purchaseTimeout time.Duration
}

func New(log Logger, client kv.Client, namespace string, opts ...Option) *Ledger {
	l := &Ledger{
		log:             log,
		client:          client,
		keys:            kv.NewKeyspace(namespace),
		listTimeout:     defaultListTimeout,
		purchaseTimeout: defaultPurchaseTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.runner = kv.NewRunner(log, client, l.runnerOpts...)
	return l
}

func (l *Ledger) marketKey() string {
	return l.keys.Key("market", "")
}

func (l *Ledger) inventoryKey(userID string) string {
	return l.keys.Key("inventory", userID)
}

func (l *Ledger) userKey(userID string) string {
	return l.keys.Key("users", userID)
}

func listingMember(itemID, sellerID string) string {
	return itemID + listingSeparator + sellerID
}

// List moves itemID out of the seller's inventory and onto the market at
// price. It returns true only when the listing committed. Otherwise the
// error says whether the item was not in the inventory (redis.ErrRejected),
// the inventory was too contended (redis.ErrTimedOut) or the store failed.
func (l *Ledger) List(ctx context.Context, itemID, sellerID string, price float64) (bool, error) {
	log := l.log.FromContext(ctx)
	defer log.Close()

	if price <= 0 {
		return false, ErrInvalidPrice
	}

	inventory := l.inventoryKey(sellerID)
	member := listingMember(itemID, sellerID)
	market := l.marketKey()

	body := func(ctx context.Context, tx *redis.Tx) (kv.Stager, error) {
		owned, err := tx.SIsMember(ctx, inventory, itemID).Result()
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, kv.Rejectf("%s is not in the inventory of %s", itemID, sellerID)
		}
		return func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, market, &redis.Z{Score: price, Member: member})
			pipe.SRem(ctx, inventory, itemID)
			return nil
		}, nil
	}

	outcome, err := l.runner.Run(ctx, "market.List", []string{inventory}, l.listTimeout, body)
	log.Debugf("List %s by %s at %v: %s", itemID, sellerID, price, outcome)
	return outcome == kv.OutcomeCommitted, err
}

// Purchase buys the listing of itemID by sellerID for buyerID provided it is
// still listed at expectedPrice and the buyer can afford it. The seller is
// credited, the buyer debited, the item moved to the buyer's inventory and
// the listing removed, all or nothing.
//
// A vanished listing and a changed price are both rejections: the caller
// must look again and decide whether to offer the new price.
func (l *Ledger) Purchase(ctx context.Context, buyerID, itemID, sellerID string, expectedPrice float64) (bool, error) {
	log := l.log.FromContext(ctx)
	defer log.Close()

	market := l.marketKey()
	member := listingMember(itemID, sellerID)
	buyer := l.userKey(buyerID)
	seller := l.userKey(sellerID)
	inventory := l.inventoryKey(buyerID)
	expected := decimal.NewFromFloat(expectedPrice)

	body := func(ctx context.Context, tx *redis.Tx) (kv.Stager, error) {
		score, err := tx.ZScore(ctx, market, member).Result()
		if errors.Is(err, redis.Nil) {
			return nil, kv.Rejectf("%s is not listed", member)
		}
		if err != nil {
			return nil, err
		}
		price := decimal.NewFromFloat(score)
		if !price.Equal(expected) {
			return nil, kv.Rejectf("%s is listed at %s not %s", member, price, expected)
		}

		funds, err := readFunds(ctx, tx, buyer)
		if err != nil {
			return nil, err
		}
		if funds.LessThan(price) {
			return nil, kv.Rejectf("%s has %s, %s costs %s", buyerID, funds, member, price)
		}

		// The buyer's record is watched so its new balance can be written
		// exactly. The seller's is not, so it is incremented.
		remaining := funds.Sub(price)
		return func(pipe redis.Pipeliner) error {
			if buyerID != sellerID {
				pipe.HIncrByFloat(ctx, seller, fundsField, price.InexactFloat64())
				pipe.HSet(ctx, buyer, fundsField, remaining.String())
			}
			pipe.SAdd(ctx, inventory, itemID)
			pipe.ZRem(ctx, market, member)
			return nil
		}, nil
	}

	outcome, err := l.runner.Run(ctx, "market.Purchase", []string{market, buyer}, l.purchaseTimeout, body)
	log.Debugf("Purchase %s from %s by %s at %v: %s", itemID, sellerID, buyerID, expectedPrice, outcome)
	return outcome == kv.OutcomeCommitted, err
}

type hgetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// readFunds treats a user without a funds field as having none.
func readFunds(ctx context.Context, c hgetter, userKey string) (decimal.Decimal, error) {
	s, err := c.HGet(ctx, userKey, fundsField).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

// AddInventory grants items to a user.
func (l *Ledger) AddInventory(ctx context.Context, userID string, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	span, ctx := otrace.StartSpanFromContext(ctx, "market.AddInventory.SAdd")
	defer span.Finish()

	members := make([]any, 0, len(itemIDs))
	for _, id := range itemIDs {
		members = append(members, id)
	}
	if err := l.client.SAdd(ctx, l.inventoryKey(userID), members...).Err(); err != nil {
		return kv.UnavailableError(err, "market.AddInventory")
	}
	return nil
}

// Inventory returns the items a user owns and has not listed, sorted.
func (l *Ledger) Inventory(ctx context.Context, userID string) ([]string, error) {
	span, ctx := otrace.StartSpanFromContext(ctx, "market.Inventory.SMembers")
	defer span.Finish()

	items, err := l.client.SMembers(ctx, l.inventoryKey(userID)).Result()
	if err != nil {
		return nil, kv.UnavailableError(err, "market.Inventory")
	}
	sort.Strings(items)
	return items, nil
}

// SetFunds overwrites a user's balance.
func (l *Ledger) SetFunds(ctx context.Context, userID string, funds decimal.Decimal) error {
	span, ctx := otrace.StartSpanFromContext(ctx, "market.SetFunds.HSet")
	defer span.Finish()

	if err := l.client.HSet(ctx, l.userKey(userID), fundsField, funds.String()).Err(); err != nil {
		return kv.UnavailableError(err, "market.SetFunds")
	}
	return nil
}

// Funds returns a user's balance, zero for unknown users.
func (l *Ledger) Funds(ctx context.Context, userID string) (decimal.Decimal, error) {
	span, ctx := otrace.StartSpanFromContext(ctx, "market.Funds.HGet")
	defer span.Finish()

	funds, err := readFunds(ctx, l.client, l.userKey(userID))
	if err != nil {
		return decimal.Zero, kv.UnavailableError(err, "market.Funds")
	}
	return funds, nil
}

// Price returns the listed price of an item and whether it is listed.
func (l *Ledger) Price(ctx context.Context, itemID, sellerID string) (float64, bool, error) {
	span, ctx := otrace.StartSpanFromContext(ctx, "market.Price.ZScore")
	defer span.Finish()

	price, err := l.client.ZScore(ctx, l.marketKey(), listingMember(itemID, sellerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, kv.UnavailableError(err, "market.Price")
	}
	return price, true, nil
}

// Listings returns count listings from offset, cheapest first. A negative
// count returns everything from offset.
func (l *Ledger) Listings(ctx context.Context, offset, count int64) ([]Listing, error) {
	span, ctx := otrace.StartSpanFromContext(ctx, "market.Listings.ZRangeWithScores")
	defer span.Finish()

	stop := int64(-1)
	if count >= 0 {
		if count == 0 {
			return nil, nil
		}
		stop = offset + count - 1
	}
	zs, err := l.client.ZRangeWithScores(ctx, l.marketKey(), offset, stop).Result()
	if err != nil {
		return nil, kv.UnavailableError(err, "market.Listings")
	}

	listings := make([]Listing, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		listings = append(listings, parseListing(member, z.Score))
	}
	return listings, nil
}

// parseListing splits on the last separator, item ids may contain dots but
// user ids may not.
func parseListing(member string, price float64) Listing {
	i := strings.LastIndex(member, listingSeparator)
	if i < 0 {
		return Listing{ItemID: member, Price: price}
	}
	return Listing{ItemID: member[:i], SellerID: member[i+len(listingSeparator):], Price: price}
}
