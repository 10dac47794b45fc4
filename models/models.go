package models

// All 回傳所有需要建立資料表的模型，順序即建立順序
func All() []any {
	return []any{
		&Auction{},
		&Item{},
		&Bid{},
	}
}
