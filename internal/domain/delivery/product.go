// Package delivery отвечает за доставку купленного товара покупателю через userbot.
// Диспетчер разрешает получателя, выбирает канал (секретный чат или личка),
// отправляет текст и вложения с ограниченными повторами и при flood wait
// переключает аккаунт пула или опускается до обычной лички.
package delivery

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// placeholder подставляется вместо отсутствующих полей: структура сообщения не меняется.
const placeholder = "N/A"

// Product: описание товара. Неизвестные поля попадают в Extra.
type Product struct {
	Name     string
	Type     string
	City     string
	District string
	Size     string
	Price    string
	OrderID  string
	Extra    map[string]string
}

// ProductFromMap собирает Product из произвольного словаря. Понимает как короткие
// ключи (name, type), так и длинные (product_name, product_type).
func ProductFromMap(fields map[string]string) Product {
	var p Product
	for rawKey, rawValue := range fields {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		value := strings.TrimSpace(rawValue)
		switch key {
		case "name", "product_name":
			p.Name = value
		case "type", "product_type":
			p.Type = value
		case "city":
			p.City = value
		case "district":
			p.District = value
		case "size":
			p.Size = value
		case "price":
			p.Price = value
		case "order_id", "order":
			p.OrderID = value
		default:
			if key == "" {
				continue
			}
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[key] = value
		}
	}
	return p
}

// FormatOptions: параметры оформления.
type FormatOptions struct {
	DeliveredAt time.Time
	// TTL > 0 добавляет строку о самоуничтожении (только для секретного чата).
	TTL time.Duration
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}

// Format строит текст доставки. Отсутствующие поля выводятся как N/A, а не пропускаются.
func Format(p Product, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString("🎉 YOUR PRODUCT IS READY!\n\n")
	fmt.Fprintf(&b, "📦 Product: %s\n", orNA(p.Name))
	fmt.Fprintf(&b, "🏷️ Type: %s\n", orNA(p.Type))
	fmt.Fprintf(&b, "📍 Location: %s, %s\n", orNA(p.City), orNA(p.District))
	fmt.Fprintf(&b, "📏 Size: %s\n", orNA(p.Size))
	if strings.TrimSpace(p.Price) == "" {
		fmt.Fprintf(&b, "💰 Price: %s\n", placeholder)
	} else {
		fmt.Fprintf(&b, "💰 Price: €%s\n", p.Price)
	}
	fmt.Fprintf(&b, "🆔 Order ID: %s\n", orNA(p.OrderID))

	if len(p.Extra) > 0 {
		keys := make([]string, 0, len(p.Extra))
		for k := range p.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "• %s: %s\n", k, orNA(p.Extra[k]))
		}
	}

	if !opts.DeliveredAt.IsZero() {
		fmt.Fprintf(&b, "⏰ Delivered: %s\n", opts.DeliveredAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	if hours := int(opts.TTL / time.Hour); hours > 0 {
		fmt.Fprintf(&b, "\n🔒 This message will self-destruct in %d hours\n", hours)
	}
	b.WriteString("\nThank you for your purchase! 🛍️")
	return b.String()
}

// fallbackLabel предупреждает покупателя, что доставка ушла не через секретный чат.
const fallbackLabel = "⚠️ Secret chat is temporarily unavailable. This order was delivered over a regular (not end-to-end encrypted) chat.\n\n"

// FormatFallback: Format с явной пометкой менее защищённого канала.
func FormatFallback(p Product, opts FormatOptions) string {
	opts.TTL = 0
	return fallbackLabel + Format(p, opts)
}
