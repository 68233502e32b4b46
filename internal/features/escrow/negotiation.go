package escrow

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/commission"
)

// Stage — этап согласования условий.
type Stage string

const (
	StagePrice         Stage = "price"          // ждём предложение цены
	StagePriceResponse Stage = "price_response" // ждём ответ на предложение
	StagePayer         Stage = "payer"          // кто платит комиссию
	StageMethod        Stage = "method"         // продавец выбирает способ выплаты
	StageDetails       Stage = "details"        // продавец вводит реквизиты
	StageConfirm       Stage = "confirm"        // продавец подтверждает условия
)

// maxAmount ограничивает сумму сделки размером колонки NUMERIC(14,2).
var maxAmount = decimal.RequireFromString("999999999999.99")

// Draft — условия сделки до её создания. Живёт только в памяти.
type Draft struct {
	ChatID       int64
	ListingID    int64
	Title        string
	SellerID     int64
	BuyerID      int64
	FixedPrice   bool
	Stage        Stage
	Amount       decimal.Decimal
	ProposedBy   int64 // кто предложил текущую цену
	AwaitingFrom int64 // от кого ждём ввод цены
	Payer        commission.Payer
	Method       PaymentMethod
	Details      string
	ExpiresAt    time.Time
}

// IsParty проверяет, участник ли пользователь.
func (d *Draft) IsParty(userID int64) bool {
	return userID == d.SellerID || userID == d.BuyerID
}

// Counterpart возвращает вторую сторону.
func (d *Draft) Counterpart(userID int64) int64 {
	if userID == d.SellerID {
		return d.BuyerID
	}
	return d.SellerID
}

// AwaitsTextFrom — ждёт ли черновик текстовый ввод от пользователя.
func (d *Draft) AwaitsTextFrom(userID int64) bool {
	switch d.Stage {
	case StagePrice:
		return userID == d.AwaitingFrom
	case StageDetails:
		return userID == d.SellerID
	default:
		return false
	}
}

// Negotiations хранит черновики сделок по ID чата.
type Negotiations struct {
	mu     sync.Mutex
	drafts map[int64]*Draft
	ttl    time.Duration
	now    func() time.Time
}

// NewNegotiations создаёт хранилище черновиков с временем жизни ttl.
func NewNegotiations(ttl time.Duration) *Negotiations {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Negotiations{drafts: make(map[int64]*Draft), ttl: ttl, now: time.Now}
}

// Start создаёт черновик. Если по чату уже идёт согласование — ошибка.
func (n *Negotiations) Start(d Draft) (Draft, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cur, ok := n.drafts[d.ChatID]; ok && n.now().Before(cur.ExpiresAt) {
		return Draft{}, fmt.Errorf("чат #%d: согласование уже идёт: %w", d.ChatID, common.ErrInvalidStateTransition)
	}
	d.ExpiresAt = n.now().Add(n.ttl)
	n.drafts[d.ChatID] = &d
	return d, nil
}

// Get возвращает копию черновика.
func (n *Negotiations) Get(chatID int64) (Draft, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.live(chatID)
	if !ok {
		return Draft{}, common.ErrNoDraft
	}
	return *d, nil
}

// Update применяет fn к копии черновика. Если fn вернула ошибку, черновик не меняется.
// Каждое успешное изменение продлевает жизнь черновика.
func (n *Negotiations) Update(chatID int64, fn func(d *Draft) error) (Draft, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cur, ok := n.live(chatID)
	if !ok {
		return Draft{}, common.ErrNoDraft
	}
	next := *cur
	if err := fn(&next); err != nil {
		return *cur, err
	}
	next.ExpiresAt = n.now().Add(n.ttl)
	n.drafts[chatID] = &next
	return next, nil
}

// Take удаляет черновик и возвращает его, если check пропускает.
func (n *Negotiations) Take(chatID int64, check func(d *Draft) error) (Draft, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cur, ok := n.live(chatID)
	if !ok {
		return Draft{}, common.ErrNoDraft
	}
	if err := check(cur); err != nil {
		return *cur, err
	}
	delete(n.drafts, chatID)
	return *cur, nil
}

// Restore возвращает черновик после неудачного создания сделки.
func (n *Negotiations) Restore(d Draft) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d.ExpiresAt = n.now().Add(n.ttl)
	n.drafts[d.ChatID] = &d
}

// Delete удаляет черновик.
func (n *Negotiations) Delete(chatID int64) {
	n.mu.Lock()
	delete(n.drafts, chatID)
	n.mu.Unlock()
}

// AwaitingTextFrom находит черновик, который ждёт текст от пользователя.
func (n *Negotiations) AwaitingTextFrom(userID int64) (Draft, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range n.drafts {
		if d, ok := n.live(id); ok && d.AwaitsTextFrom(userID) {
			return *d, true
		}
	}
	return Draft{}, false
}

// Purge удаляет истёкшие черновики. Вызывается планировщиком.
func (n *Negotiations) Purge() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	removed := 0
	now := n.now()
	for id, d := range n.drafts {
		if !now.Before(d.ExpiresAt) {
			delete(n.drafts, id)
			removed++
		}
	}
	return removed
}

func (n *Negotiations) live(chatID int64) (*Draft, bool) {
	d, ok := n.drafts[chatID]
	if !ok {
		return nil, false
	}
	if !n.now().Before(d.ExpiresAt) {
		delete(n.drafts, chatID)
		return nil, false
	}
	return d, true
}

// ParseAmount разбирает сумму, введённую пользователем: "1 500", "1500,50", "1500 грн".
func ParseAmount(raw string, min decimal.Decimal) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, suffix := range []string{"грн", "uah", "₴"} {
		s = strings.TrimSuffix(s, suffix)
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		if r == ',' {
			return '.'
		}
		return r
	}, s)

	amount, err := decimal.NewFromString(s)
	if err != nil || s == "" {
		return decimal.Zero, common.Invalid("", "введите сумму числом, например 1500")
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, common.Invalid("", "сумма может содержать не больше двух знаков после запятой")
	}
	if amount.LessThan(min) {
		return decimal.Zero, common.Invalid("", "минимальная сумма сделки: %s", common.FormatMoney(min))
	}
	if amount.GreaterThan(maxAmount) {
		return decimal.Zero, common.Invalid("", "слишком большая сумма")
	}
	return amount, nil
}

// ParsePaymentMethod разбирает код способа выплаты.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodUACard, MethodCryptoTON, MethodCryptoUSDT:
		return m, nil
	default:
		return "", common.Invalid("", "неизвестный способ выплаты")
	}
}

// ValidatePaymentDetails проверяет формат реквизитов и возвращает нормализованное значение.
// Номер карты: ровно 16 цифр, пробелы и дефисы допускаются. Адрес кошелька: не короче 20 символов.
func ValidatePaymentDetails(method PaymentMethod, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch method {
	case MethodUACard:
		digits := strings.Map(func(r rune) rune {
			if r == ' ' || r == '-' {
				return -1
			}
			return r
		}, raw)
		if len(digits) != 16 || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return "", common.Invalid("", "номер карты должен состоять из 16 цифр")
		}
		return digits, nil
	case MethodCryptoTON, MethodCryptoUSDT:
		if strings.IndexFunc(raw, unicode.IsSpace) >= 0 {
			return "", common.Invalid("", "адрес кошелька не должен содержать пробелов")
		}
		if len(raw) < 20 {
			return "", common.Invalid("", "адрес кошелька слишком короткий (минимум 20 символов)")
		}
		return raw, nil
	default:
		return "", common.Invalid("", "сначала выберите способ выплаты")
	}
}
