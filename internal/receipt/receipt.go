// Package receipt формирует PDF-квитанции заказов.
package receipt

import (
	"bytes"
	"fmt"

	"github.com/phpdave11/gofpdf"

	"github.com/mmeshcher/canteen-system/internal/model"
)

// Generate формирует PDF-квитанцию по заказу. Суммы печатаются как "Rs.",
// потому что стандартные шрифты PDF не содержат знак рупии.
func Generate(order *model.Order) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Campus Canteen")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Order: %s", order.ID))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Queue number: %d", order.QueueNumber))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Placed at: %s", order.CreatedAt.Format("02 Jan 2006 15:04")))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Payment: %s (%s)", order.PaymentMethod, order.PaymentStatus))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(90, 8, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(25, 8, "Qty", "B", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, "Price", "B", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, "Amount", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	for _, item := range order.Items {
		pdf.CellFormat(90, 8, item.Name, "", 0, "L", false, 0, "")
		pdf.CellFormat(25, 8, fmt.Sprintf("%d", item.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("Rs. %.2f", item.Price), "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("Rs. %.2f", item.Price*float64(item.Quantity)), "", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(150, 8, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, fmt.Sprintf("Rs. %.2f", order.TotalAmount), "T", 1, "R", false, 0, "")

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.Cell(0, 6, "Thank you for your order!")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}

	return buf.Bytes(), nil
}
