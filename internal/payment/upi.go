// Package payment реализует инициирование и подтверждение оплаты заказа.
// Инициирование (deep link, QR-код) и подтверждение (Verifier) разделены,
// чтобы имитацию подтверждения можно было заменить на настоящий webhook
// платёжного шлюза, не меняя остальной код.
package payment

import (
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

const currency = "INR"

// LinkBuilder формирует UPI deep link с реквизитами получателя платежа.
type LinkBuilder struct {
	payeeVPA  string
	payeeName string
}

// NewLinkBuilder создаёт построитель ссылок для указанного получателя.
func NewLinkBuilder(payeeVPA, payeeName string) *LinkBuilder {
	return &LinkBuilder{
		payeeVPA:  payeeVPA,
		payeeName: payeeName,
	}
}

// Link возвращает UPI deep link вида
// upi://pay?pa=...&pn=...&am=...&tr=...&tn=...&cu=INR.
// Сумма всегда форматируется с двумя знаками после запятой.
func (b *LinkBuilder) Link(orderID string, amount float64, note string) string {
	params := url.Values{}
	params.Set("pa", b.payeeVPA)
	params.Set("pn", b.payeeName)
	params.Set("am", fmt.Sprintf("%.2f", amount))
	params.Set("tr", orderID)
	params.Set("tn", note)
	params.Set("cu", currency)

	return "upi://pay?" + params.Encode()
}

// QR возвращает PNG с QR-кодом платёжной ссылки для оплаты с другого
// устройства.
func (b *LinkBuilder) QR(orderID string, amount float64, note string) ([]byte, error) {
	png, err := qrcode.Encode(b.Link(orderID, amount, note), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
