package models

import (
	"github.com/google/uuid"

	"rauction/auction"
)

// Item 代表拍賣中的一個品項，建立後不可修改
type Item struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID     uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	Position      int       `gorm:"not null;<-:create"`
	Description   string    `gorm:"type:text;not null;<-:create"`
	Quantity      int       `gorm:"not null;<-:create"`
	UnitOfMeasure string    `gorm:"type:varchar(32);not null;<-:create"`

	Auction *Auction `gorm:"foreignKey:AuctionID"`
}

func (i Item) ToDomain() auction.Item {
	return auction.Item{
		ID:            i.ID,
		AuctionID:     i.AuctionID,
		Description:   i.Description,
		Quantity:      i.Quantity,
		UnitOfMeasure: i.UnitOfMeasure,
	}
}
