package model

import (
	"github.com/golang/geo/r3"
)

// ASPRS LAS classification codes for the values the engine commonly filters on.
const (
	ClassCreated          uint8 = 0
	ClassUnclassified     uint8 = 1
	ClassGround           uint8 = 2
	ClassLowVegetation    uint8 = 3
	ClassMediumVegetation uint8 = 4
	ClassHighVegetation   uint8 = 5
	ClassBuilding         uint8 = 6
	ClassLowPoint         uint8 = 7
	ClassWater            uint8 = 9
)

// Attributes holds the LAS point record attributes of a single point.
type Attributes struct {
	Intensity       uint16
	ReturnNumber    uint8
	NumberOfReturns uint8
	Classification  uint8
	ScanAngleRank   int8
	UserData        uint8
	PointSourceID   uint16
	GpsTime         float64
	ColorR          uint16
	ColorG          uint16
	ColorB          uint16
}

// Point is a single LiDAR return. Position coordinates are in the index's
// coordinate system. A Point is immutable once it has been handed to the
// engine.
type Point struct {
	Position r3.Vector
	Attributes
}
