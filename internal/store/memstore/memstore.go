// Package memstore is an in-memory store.Store. A transaction holds the
// store-wide lock for its whole duration and restores a snapshot when the
// callback fails, which gives serializable semantics without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
)

type cartRow struct {
	id        int64
	buyerID   string
	userID    *int64
	subTotal  decimal.Decimal
	total     decimal.Decimal
	createdAt time.Time
	updatedAt time.Time
	items     []itemRow
}

type itemRow struct {
	id        int64
	productID int64
	quantity  int
}

type data struct {
	seq        int64
	users      map[int64]models.User
	products   map[int64]models.Product
	carts      map[int64]*cartRow
	orders     map[int64]*models.Order
	codes      map[string]int64
	outbox     []models.OutboxEvent
	staleStock map[int64]int
}

func newData() *data {
	return &data{
		users:      make(map[int64]models.User),
		products:   make(map[int64]models.Product),
		carts:      make(map[int64]*cartRow),
		orders:     make(map[int64]*models.Order),
		codes:      make(map[string]int64),
		staleStock: make(map[int64]int),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

func (d *data) clone() *data {
	cp := &data{
		seq:        d.seq,
		users:      make(map[int64]models.User, len(d.users)),
		products:   make(map[int64]models.Product, len(d.products)),
		carts:      make(map[int64]*cartRow, len(d.carts)),
		orders:     make(map[int64]*models.Order, len(d.orders)),
		codes:      make(map[string]int64, len(d.codes)),
		outbox:     append([]models.OutboxEvent(nil), d.outbox...),
		staleStock: make(map[int64]int, len(d.staleStock)),
	}
	for k, v := range d.users {
		cp.users[k] = v
	}
	for k, v := range d.products {
		cp.products[k] = v
	}
	for k, v := range d.carts {
		row := *v
		row.items = append([]itemRow(nil), v.items...)
		cp.carts[k] = &row
	}
	for k, v := range d.orders {
		cp.orders[k] = copyOrder(v)
	}
	for k, v := range d.codes {
		cp.codes[k] = v
	}
	for k, v := range d.staleStock {
		cp.staleStock[k] = v
	}
	return cp
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

type Store struct {
	mu   sync.Mutex
	data *data
}

func New() *Store {
	return &Store{data: newData()}
}

func (s *Store) root() view { return view{s: s} }

func (s *Store) Users() store.UserRepository       { return s.root().Users() }
func (s *Store) Products() store.ProductRepository { return s.root().Products() }
func (s *Store) Carts() store.CartRepository       { return s.root().Carts() }
func (s *Store) Orders() store.OrderRepository     { return s.root().Orders() }
func (s *Store) Outbox() store.OutboxRepository    { return s.root().Outbox() }

func (s *Store) WithTx(ctx context.Context, opts database.TxOptions, fn func(store.Store) error) error {
	return s.root().WithTx(ctx, opts, fn)
}

// view is the store as seen from inside or outside a transaction. Inside a
// transaction the lock is already held.
type view struct {
	s  *Store
	tx bool
}

func (v view) lock() func() {
	if v.tx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) Users() store.UserRepository       { return users{v} }
func (v view) Products() store.ProductRepository { return products{v} }
func (v view) Carts() store.CartRepository       { return carts{v} }
func (v view) Orders() store.OrderRepository     { return orders{v} }
func (v view) Outbox() store.OutboxRepository    { return outbox{v} }

func (v view) WithTx(ctx context.Context, _ database.TxOptions, fn func(store.Store) error) error {
	if v.tx {
		return fn(v)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	snapshot := v.s.data.clone()
	if err := fn(view{s: v.s, tx: true}); err != nil {
		v.s.data = snapshot
		return err
	}
	return nil
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Store = view{}
)

// Seeding and inspection helpers.

func (s *Store) AddUser(email, name string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u := models.User{ID: s.data.nextID(), Email: email, Name: name, CreatedAt: now, UpdatedAt: now, Version: 1}
	s.data.users[u.ID] = u
	return u
}

func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	p.ID = s.data.nextID()
	p.CreatedAt, p.UpdatedAt, p.Version = now, now, 1
	s.data.products[p.ID] = p
	return p
}

func (s *Store) UpdateProduct(id int64, fn func(*models.Product)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	if !ok {
		return
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	p.Version++
	s.data.products[id] = p
}

func (s *Store) Product(id int64) (models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	return p, ok
}

// InjectStaleStock makes the next stock read for the product return stock
// regardless of the stored quantity.
func (s *Store) InjectStaleStock(productID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.staleStock[productID] = stock
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.orders)
}

func (s *Store) CartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.carts)
}

func (s *Store) OutboxEvents() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxEvent(nil), s.data.outbox...)
}

type users struct{ v view }

func (r users) GetByID(_ context.Context, id int64) (*models.User, error) {
	defer r.v.lock()()
	u, ok := r.v.s.data.users[id]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return &u, nil
}

type products struct{ v view }

func (r products) GetByID(_ context.Context, id int64) (*models.Product, error) {
	defer r.v.lock()()
	p, ok := r.v.s.data.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &p, nil
}

func (r products) GetRealStock(_ context.Context, id int64) (int, error) {
	defer r.v.lock()()
	d := r.v.s.data
	if stock, ok := d.staleStock[id]; ok {
		delete(d.staleStock, id)
		return stock, nil
	}
	return d.products[id].StockQuantity, nil
}

func (r products) DecrementStock(_ context.Context, id int64, quantity int) error {
	defer r.v.lock()()
	d := r.v.s.data
	p, ok := d.products[id]
	if !ok || p.StockQuantity < quantity {
		return database.ErrInsufficientStock
	}
	p.StockQuantity -= quantity
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	d.products[id] = p
	return nil
}

type carts struct{ v view }

func (r carts) materialize(row *cartRow) *models.Cart {
	cart := &models.Cart{
		ID:        row.id,
		BuyerID:   row.buyerID,
		SubTotal:  row.subTotal,
		Total:     row.total,
		Items:     make([]models.CartItem, 0, len(row.items)),
		CreatedAt: row.createdAt,
		UpdatedAt: row.updatedAt,
	}
	if row.userID != nil {
		uid := *row.userID
		cart.UserID = &uid
	}
	for _, it := range row.items {
		cart.Items = append(cart.Items, models.CartItem{
			ID:        it.id,
			CartID:    row.id,
			ProductID: it.productID,
			Quantity:  it.quantity,
			Product:   r.v.s.data.products[it.productID],
		})
	}
	return cart
}

func (r carts) find(key models.CartKey) *cartRow {
	for _, row := range r.v.s.data.carts {
		if key.IsUser() {
			if row.userID != nil && *row.userID == key.UserID() {
				return row
			}
			continue
		}
		if row.userID == nil && row.buyerID == key.BuyerID() {
			return row
		}
	}
	return nil
}

func (r carts) Get(_ context.Context, key models.CartKey) (*models.Cart, error) {
	defer r.v.lock()()
	row := r.find(key)
	if row == nil {
		return nil, database.ErrCartNotFound
	}
	return r.materialize(row), nil
}

func (r carts) Resolve(_ context.Context, id models.Identity) (*models.Cart, error) {
	defer r.v.lock()()
	now := time.Now().UTC()

	if id.Authenticated() {
		if row := r.find(models.UserKey(id.UserID)); row != nil {
			if id.BuyerID != "" && row.buyerID != id.BuyerID {
				row.buyerID = id.BuyerID
				row.updatedAt = now
			}
			return r.materialize(row), nil
		}
	}

	if id.BuyerID == "" {
		return nil, database.ErrCartNotFound
	}

	row := r.find(models.AnonymousKey(id.BuyerID))
	if row == nil {
		return nil, database.ErrCartNotFound
	}
	if id.Authenticated() {
		uid := id.UserID
		row.userID = &uid
		row.updatedAt = now
	}
	return r.materialize(row), nil
}

func (r carts) Create(_ context.Context, id models.Identity) (*models.Cart, error) {
	defer r.v.lock()()
	if row := r.find(id.Key()); row != nil {
		return r.materialize(row), nil
	}

	now := time.Now().UTC()
	row := &cartRow{
		id:        r.v.s.data.nextID(),
		buyerID:   id.BuyerID,
		createdAt: now,
		updatedAt: now,
	}
	if id.Authenticated() {
		uid := id.UserID
		row.userID = &uid
	}
	r.v.s.data.carts[row.id] = row
	return r.materialize(row), nil
}

func (r carts) Update(_ context.Context, cart *models.Cart) error {
	defer r.v.lock()()
	d := r.v.s.data
	row, ok := d.carts[cart.ID]
	if !ok {
		return database.ErrCartNotFound
	}

	if cart.UserID != nil && (row.userID == nil || *row.userID != *cart.UserID) {
		if other := r.find(models.UserKey(*cart.UserID)); other != nil && other.id != row.id {
			return fmt.Errorf("update cart: user %d already owns cart %d", *cart.UserID, other.id)
		}
	}

	existing := make(map[int64]int64, len(row.items))
	for _, it := range row.items {
		existing[it.productID] = it.id
	}

	items := make([]itemRow, 0, len(cart.Items))
	for i := range cart.Items {
		item := &cart.Items[i]
		if _, ok := d.products[item.ProductID]; !ok {
			return fmt.Errorf("save cart item %d: %w", item.ProductID, database.ErrProductNotFound)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("save cart item %d: quantity %d below 1", item.ProductID, item.Quantity)
		}
		itemID, ok := existing[item.ProductID]
		if !ok {
			itemID = d.nextID()
		}
		item.ID, item.CartID = itemID, cart.ID
		items = append(items, itemRow{id: itemID, productID: item.ProductID, quantity: item.Quantity})
	}

	row.buyerID = cart.BuyerID
	row.userID = nil
	if cart.UserID != nil {
		uid := *cart.UserID
		row.userID = &uid
	}
	row.subTotal, row.total = cart.SubTotal, cart.Total
	row.items = items
	row.updatedAt = time.Now().UTC()
	return nil
}

func (r carts) Delete(_ context.Context, cartID int64) error {
	defer r.v.lock()()
	if _, ok := r.v.s.data.carts[cartID]; !ok {
		return database.ErrCartNotFound
	}
	delete(r.v.s.data.carts, cartID)
	return nil
}

type orders struct{ v view }

func (r orders) CodeExists(_ context.Context, code string) (bool, error) {
	defer r.v.lock()()
	_, ok := r.v.s.data.codes[code]
	return ok, nil
}

func (r orders) Create(_ context.Context, order *models.Order) (bool, error) {
	defer r.v.lock()()
	d := r.v.s.data
	if _, taken := d.codes[order.Code]; taken {
		return false, nil
	}
	if _, ok := d.users[order.UserID]; !ok {
		return false, fmt.Errorf("create order: %w", database.ErrUserNotFound)
	}

	now := time.Now().UTC()
	order.ID = d.nextID()
	order.CreatedAt, order.UpdatedAt, order.Version = now, now, 1
	for i := range order.Items {
		order.Items[i].ID = d.nextID()
		order.Items[i].OrderID = order.ID
		order.Items[i].CreatedAt = now
	}

	d.orders[order.ID] = copyOrder(order)
	d.codes[order.Code] = order.ID
	return true, nil
}

func (r orders) GetByCode(_ context.Context, code string) (*models.Order, error) {
	defer r.v.lock()()
	id, ok := r.v.s.data.codes[code]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return copyOrder(r.v.s.data.orders[id]), nil
}

func (r orders) GetByID(_ context.Context, id int64) (*models.Order, error) {
	defer r.v.lock()()
	o, ok := r.v.s.data.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r orders) ListByUser(_ context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error) {
	c, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidCursor, err)
	}

	defer r.v.lock()()
	var list []models.Order
	for _, o := range r.v.s.data.orders {
		if o.UserID != userID {
			continue
		}
		if o.CreatedAt.After(c.CreatedAt) || (o.CreatedAt.Equal(c.CreatedAt) && o.ID >= c.ID) {
			continue
		}
		list = append(list, *copyOrder(o))
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	if len(list) > limit+1 {
		list = list[:limit+1]
	}
	if list == nil {
		list = []models.Order{}
	}
	return store.BuildCursorPage(list, limit), nil
}

func (r orders) UpdateStatus(_ context.Context, id int64, status models.OrderStatus, adminID string) error {
	defer r.v.lock()()
	o, ok := r.v.s.data.orders[id]
	if !ok {
		return database.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedByAdminID = &adminID
	o.UpdatedAt = time.Now().UTC()
	o.Version++
	return nil
}

type outbox struct{ v view }

func (r outbox) Append(_ context.Context, event *models.OutboxEvent) error {
	defer r.v.lock()()
	d := r.v.s.data
	event.ID = d.nextID()
	event.CreatedAt = time.Now().UTC()
	d.outbox = append(d.outbox, *event)
	return nil
}

func (r outbox) ClaimUnpublished(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	defer r.v.lock()()
	var events []models.OutboxEvent
	for _, ev := range r.v.s.data.outbox {
		if ev.PublishedAt != nil {
			continue
		}
		events = append(events, ev)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (r outbox) MarkPublished(_ context.Context, id int64) error {
	defer r.v.lock()()
	for i := range r.v.s.data.outbox {
		if r.v.s.data.outbox[i].ID == id {
			now := time.Now().UTC()
			r.v.s.data.outbox[i].PublishedAt = &now
			return nil
		}
	}
	return nil
}
