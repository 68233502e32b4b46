// Package commission считает комиссию гаранта и итоговые суммы сторон сделки.
// Все функции чистые: никаких обращений к БД и Telegram.
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"serotonyl.ru/escrow-bot/internal/common"
)

// Payer — кто оплачивает комиссию.
type Payer string

const (
	PayerSeller Payer = "seller"
	PayerBuyer  Payer = "buyer"
	PayerSplit  Payer = "split"
)

// Label возвращает подпись для кнопок и сообщений.
func (p Payer) Label() string {
	switch p {
	case PayerSeller:
		return "Продавец"
	case PayerBuyer:
		return "Покупатель"
	case PayerSplit:
		return "50/50"
	default:
		return string(p)
	}
}

// ParsePayer разбирает значение из callback-данных или БД.
func ParsePayer(s string) (Payer, error) {
	switch p := Payer(s); p {
	case PayerSeller, PayerBuyer, PayerSplit:
		return p, nil
	default:
		return "", common.Invalid("commission_payer", "неизвестный плательщик комиссии: %q", s)
	}
}

// Breakdown — разбивка сумм по сделке.
type Breakdown struct {
	Amount         decimal.Decimal
	Commission     decimal.Decimal
	BuyerShare     decimal.Decimal // часть комиссии на покупателе
	SellerShare    decimal.Decimal // часть комиссии на продавце
	BuyerOwes      decimal.Decimal // сумма к оплате покупателем
	SellerReceives decimal.Decimal // сумма к выплате продавцу
}

// Calculator хранит ставку комиссии.
type Calculator struct {
	Rate decimal.Decimal
}

// NewCalculator создаёт калькулятор со ставкой rate (например 0.05).
func NewCalculator(rate decimal.Decimal) *Calculator {
	return &Calculator{Rate: rate}
}

// Commission считает комиссию = amount × rate, округлённую до копеек.
// Значение считается один раз при создании сделки и дальше не пересчитывается.
func (c *Calculator) Commission(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, common.Invalid("amount", "сумма должна быть больше нуля")
	}
	return amount.Mul(c.Rate).Round(2), nil
}

// Quote считает комиссию и сразу разбивку сумм.
func (c *Calculator) Quote(amount decimal.Decimal, payer Payer) (Breakdown, error) {
	fee, err := c.Commission(amount)
	if err != nil {
		return Breakdown{}, err
	}
	return Split(amount, fee, payer)
}

// Split распределяет уже зафиксированную комиссию между сторонами.
//
// Для PayerSplit покупатель платит половину комиссии, округлённую вверх до копейки,
// продавец — остаток. BuyerOwes − SellerReceives == Commission.
//
// Пример: amount=1000, commission=50, split → BuyerOwes=1025, SellerReceives=975.
func Split(amount, fee decimal.Decimal, payer Payer) (Breakdown, error) {
	if !amount.IsPositive() {
		return Breakdown{}, common.Invalid("amount", "сумма должна быть больше нуля")
	}
	if fee.IsNegative() {
		return Breakdown{}, common.Invalid("commission", "комиссия не может быть отрицательной")
	}

	var buyerShare decimal.Decimal
	switch payer {
	case PayerSeller:
		buyerShare = decimal.Zero
	case PayerBuyer:
		buyerShare = fee
	case PayerSplit:
		buyerShare = fee.Div(decimal.NewFromInt(2)).RoundCeil(2)
	default:
		return Breakdown{}, common.Invalid("commission_payer", "неизвестный плательщик комиссии: %q", string(payer))
	}
	sellerShare := fee.Sub(buyerShare)

	return Breakdown{
		Amount:         amount,
		Commission:     fee,
		BuyerShare:     buyerShare,
		SellerShare:    sellerShare,
		BuyerOwes:      amount.Add(buyerShare),
		SellerReceives: amount.Sub(sellerShare),
	}, nil
}

// String — краткая сводка для логов.
func (b Breakdown) String() string {
	return fmt.Sprintf("amount=%s commission=%s buyer_owes=%s seller_receives=%s",
		b.Amount.StringFixed(2), b.Commission.StringFixed(2),
		b.BuyerOwes.StringFixed(2), b.SellerReceives.StringFixed(2))
}
