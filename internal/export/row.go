package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"unycop-connector/internal/model"
)

// DateLayout is dd/mm/yyyy HH:MM:SS.
const DateLayout = "02/01/2006 15:04:05"

// Header is the fixed column set, in file order.
var Header = []string{
	"Referencia del pedido",
	"ID del pedido",
	"Fecha",
	"ID Cliente Web",
	"Nombre Cliente",
	"Apellidos Cliente",
	"Email Cliente",
	"Teléfono Cliente",
	"DNI",
	"Dirección",
	"CP",
	"Ciudad",
	"Provincia",
	"Código Nacional del Producto",
	"Cantidad",
	"Precio Unitario sin IVA",
	"Total Productos",
	"Total Pago",
	"Gastos de Envío",
	"PVP Web",
	"Precio Unitario con IVA",
}

// GuestCustomer is written for orders without a customer account.
const GuestCustomer = "invitado"

// Rows projects orders into export rows, one per line item.
func Rows(orders []Order, loc *time.Location) [][]string {
	if loc == nil {
		loc = time.UTC
	}
	var rows [][]string
	for _, o := range orders {
		for _, it := range o.Items {
			rows = append(rows, projectItem(o, it, loc))
		}
	}
	return rows
}

func projectItem(o Order, it Item, loc *time.Location) []string {
	customer := GuestCustomer
	if o.CustomerID != 0 {
		customer = strconv.FormatInt(o.CustomerID, 10)
	}
	b := o.Billing
	return []string{
		orderReference(o),
		strconv.FormatInt(o.ID, 10),
		o.Created.In(loc).Format(DateLayout),
		customer,
		orPlaceholder(b.FirstName, "Sin nombre"),
		orPlaceholder(b.LastName, "Sin apellidos"),
		orPlaceholder(b.Email, "Sin email"),
		orPlaceholder(b.Phone, "Sin teléfono"),
		orPlaceholder(b.DNI, "Sin DNI"),
		orPlaceholder(b.Address1, "Sin dirección"),
		orPlaceholder(b.Postcode, "Sin CP"),
		orPlaceholder(b.City, "Sin ciudad"),
		orPlaceholder(b.State, "Sin provincia"),
		nationalCode(it.SKU),
		strconv.Itoa(it.Quantity),
		model.FormatAmount(perUnit(it.Subtotal, it.Quantity)),
		model.FormatAmount(o.ProductsTotal()),
		model.FormatAmount(o.Total),
		model.FormatAmount(o.ShippingTotal),
		model.FormatAmount(perUnit(it.Subtotal, it.Quantity)), // PVP Web: pre-discount, tax excluded
		model.FormatAmount(perUnit(it.Total.Add(it.TotalTax), it.Quantity)),
	}
}

func orderReference(o Order) string {
	if ref := strings.TrimSpace(o.Meta[ReferenceMetaKey]); ref != "" {
		return ref
	}
	return "WEB-" + strconv.FormatInt(o.ID, 10)
}

// nationalCode takes the first six characters of the SKU.
func nationalCode(sku string) string {
	sku = strings.TrimSpace(sku)
	if len(sku) > 6 {
		return sku[:6]
	}
	return sku
}

func perUnit(amount decimal.Decimal, qty int) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return amount.Div(decimal.NewFromInt(int64(qty)))
}

func orPlaceholder(s, placeholder string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return placeholder
}
