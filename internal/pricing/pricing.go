package pricing

// 金額計算はすべて最小単位（セント）のint64で行う純粋関数。
// 副作用を持たないので単体でテストできる。

// 1明細分の入力
type Line struct {
	UnitPrice int64
	Quantity  int64
}

// 税率・送料のポリシー
type Policy struct {
	//税率（basis points。800 = 8%）
	TaxRateBasisPoints int64

	//小計がこれを超えたら送料無料
	FreeShippingThreshold int64

	//無料にならないときの送料
	FlatShippingFee int64
}

// デフォルト：税8%、$100超で送料無料、送料$10。
func DefaultPolicy() Policy {
	return Policy{
		TaxRateBasisPoints:    800,
		FreeShippingThreshold: 10000,
		FlatShippingFee:       1000,
	}
}

type Quote struct {
	SubTotal int64
	Tax      int64
	Shipping int64
	Total    int64
}

// LineTotal は quantity × unitPrice。
func LineTotal(l Line) int64 {
	return l.UnitPrice * l.Quantity
}

// Quote は明細とポリシーから小計・税・送料・合計を計算する。
// Total = SubTotal + Tax + Shipping が常に成り立つ。
func Calculate(lines []Line, p Policy) Quote {
	var subtotal int64
	for _, l := range lines {
		subtotal += LineTotal(l)
	}

	//四捨五入（half up）
	tax := (subtotal*p.TaxRateBasisPoints + 5000) / 10000

	var shipping int64
	if subtotal <= p.FreeShippingThreshold {
		shipping = p.FlatShippingFee
	}

	return Quote{
		SubTotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal + tax + shipping,
	}
}
