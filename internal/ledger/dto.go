package ledger

import (
	"time"
)

type recordInwardRequest struct {
	Quantity      float64    `json:"quantity" validate:"gt=0"`
	ReceivedAt    *time.Time `json:"receivedAt,omitempty"`
	BatchLabel    string     `json:"batchLabel,omitempty" validate:"max=64"`
	WeightTons    *float64   `json:"weightTons,omitempty" validate:"omitempty,gt=0"`
	UnitsCount    *int64     `json:"unitsCount,omitempty" validate:"omitempty,gt=0"`
	Supplier      string     `json:"supplierName,omitempty" validate:"max=128"`
	InvoiceNumber string     `json:"invoiceNumber,omitempty" validate:"max=128"`
	InvoiceDate   *time.Time `json:"invoiceDate,omitempty"`
	VehicleNumber string     `json:"vehicleNumber,omitempty" validate:"max=64"`
	Reference     string     `json:"reference,omitempty" validate:"max=128"`
	Remarks       string     `json:"remarks,omitempty" validate:"max=512"`
}

type recordOutwardRequest struct {
	Quantity      float64    `json:"quantity" validate:"gt=0"`
	IssuedAt      *time.Time `json:"issuedAt,omitempty"`
	WeightTons    *float64   `json:"weightTons,omitempty" validate:"omitempty,gt=0"`
	UnitsCount    *int64     `json:"unitsCount,omitempty" validate:"omitempty,gt=0"`
	HandoverName  string     `json:"handoverName,omitempty" validate:"max=128"`
	Designation   string     `json:"handoverDesignation,omitempty" validate:"max=128"`
	StoreIncharge string     `json:"storeInchargeName,omitempty" validate:"max=128"`
	HandoverDate  *time.Time `json:"handoverDate,omitempty"`
	Reference     string     `json:"reference,omitempty" validate:"max=128"`
	Remarks       string     `json:"remarks,omitempty" validate:"max=512"`
}

type movementResponse struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	ProjectID  int64      `json:"projectId"`
	MaterialID int64      `json:"materialId"`
	Quantity   float64    `json:"quantity"`
	OccurredAt time.Time  `json:"movementTime"`
	WeightTons *float64   `json:"weightTons,omitempty"`
	UnitsCount *int64     `json:"unitsCount,omitempty"`

	BatchLabel    string     `json:"batchLabel,omitempty"`
	Remaining     *float64   `json:"remainingQuantity,omitempty"`
	Supplier      string     `json:"supplierName,omitempty"`
	InvoiceNumber string     `json:"invoiceNumber,omitempty"`
	InvoiceDate   *time.Time `json:"invoiceDate,omitempty"`
	VehicleNumber string     `json:"vehicleNumber,omitempty"`

	IssuedTo      string     `json:"handoverName,omitempty"`
	Designation   string     `json:"handoverDesignation,omitempty"`
	StoreIncharge string     `json:"storeInchargeName,omitempty"`
	HandoverDate  *time.Time `json:"handoverDate,omitempty"`
	BatchSummary  string     `json:"batchInfo,omitempty"`

	Reference string `json:"reference,omitempty"`
	Remarks   string `json:"remarks,omitempty"`
}

type statsResponse struct {
	MaterialID   int64   `json:"materialId"`
	TotalIn      float64 `json:"totalIn"`
	TotalOut     float64 `json:"totalOut"`
	CurrentStock float64 `json:"currentStock"`

	TotalInWeight  float64 `json:"totalInWeight"`
	TotalOutWeight float64 `json:"totalOutWeight"`
	CurrentWeight  float64 `json:"currentWeight"`

	TotalInUnits  int64 `json:"totalInUnits"`
	TotalOutUnits int64 `json:"totalOutUnits"`
	CurrentUnits  int64 `json:"currentUnits"`

	LastInwardAt  *time.Time `json:"lastInwardAt,omitempty"`
	LastOutwardAt *time.Time `json:"lastOutwardAt,omitempty"`
}

type materialDetailResponse struct {
	Stats    statsResponse      `json:"stats"`
	Inwards  []movementResponse `json:"inwardMovements"`
	Outwards []movementResponse `json:"outwardMovements"`
	History  []movementResponse `json:"history"`
}

type materialConsumptionResponse struct {
	MaterialID   int64    `json:"materialId"`
	MaterialName string   `json:"materialName"`
	Quantity     float64  `json:"totalQuantity"`
	WeightTons   *float64 `json:"totalWeightTons,omitempty"`
	UnitsCount   *int64   `json:"totalUnits,omitempty"`
}

type scopeConsumptionResponse struct {
	ProjectID   int64                         `json:"projectId"`
	ProjectName string                        `json:"projectName"`
	Materials   []materialConsumptionResponse `json:"materials"`
}

type analyticsResponse struct {
	TotalProjects  int64 `json:"totalProjects"`
	TotalMaterials int64 `json:"totalMaterials"`

	TotalQuantityIn     float64 `json:"totalQuantityIn"`
	TotalQuantityOut    float64 `json:"totalQuantityOut"`
	TotalQuantityOnHand float64 `json:"totalQuantityOnHand"`

	TotalWeightIn     float64 `json:"totalWeightIn"`
	TotalWeightOut    float64 `json:"totalWeightOut"`
	TotalWeightOnHand float64 `json:"totalWeightOnHand"`

	TotalUnitsIn     int64 `json:"totalUnitsIn"`
	TotalUnitsOut    int64 `json:"totalUnitsOut"`
	TotalUnitsOnHand int64 `json:"totalUnitsOnHand"`

	ProjectConsumption []scopeConsumptionResponse `json:"projectConsumption"`
}

type movementReportResponse struct {
	Movements []movementResponse `json:"movements"`
	TotalIn   float64            `json:"totalInQuantity"`
	TotalOut  float64            `json:"totalOutQuantity"`
}

func toMovementResponse(m Movement) movementResponse {
	resp := movementResponse{
		ID:            m.ID,
		Type:          string(m.Type),
		ProjectID:     m.Scope.ReportID(),
		MaterialID:    m.MaterialID,
		Quantity:      m.Quantity.InexactFloat64(),
		OccurredAt:    m.OccurredAt,
		BatchLabel:    m.BatchLabel,
		Supplier:      m.Supplier,
		InvoiceNumber: m.InvoiceNumber,
		InvoiceDate:   m.InvoiceDate,
		VehicleNumber: m.VehicleNumber,
		IssuedTo:      m.IssuedTo,
		Designation:   m.Designation,
		StoreIncharge: m.StoreIncharge,
		HandoverDate:  m.HandoverDate,
		BatchSummary:  m.BatchSummary,
		Reference:     m.Reference,
		Remarks:       m.Remarks,
	}
	if m.Weight.Valid {
		weight := m.Weight.Decimal.InexactFloat64()
		resp.WeightTons = &weight
	}
	resp.UnitsCount = m.Units
	if m.Remaining.Valid {
		remaining := m.Remaining.Decimal.InexactFloat64()
		resp.Remaining = &remaining
	}
	return resp
}

func toMovementResponses(movements []Movement) []movementResponse {
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	return out
}

func toStatsResponse(stats MaterialStats) statsResponse {
	return statsResponse{
		MaterialID:     stats.MaterialID,
		TotalIn:        stats.TotalIn.InexactFloat64(),
		TotalOut:       stats.TotalOut.InexactFloat64(),
		CurrentStock:   stats.CurrentStock.InexactFloat64(),
		TotalInWeight:  stats.WeightIn.InexactFloat64(),
		TotalOutWeight: stats.WeightOut.InexactFloat64(),
		CurrentWeight:  stats.CurrentWeight.InexactFloat64(),
		TotalInUnits:   stats.UnitsIn,
		TotalOutUnits:  stats.UnitsOut,
		CurrentUnits:   stats.CurrentUnits,
		LastInwardAt:   stats.LastReceiptAt,
		LastOutwardAt:  stats.LastIssueAt,
	}
}

func toAnalyticsResponse(a Analytics) analyticsResponse {
	resp := analyticsResponse{
		TotalProjects:       a.TotalProjects,
		TotalMaterials:      a.TotalMaterials,
		TotalQuantityIn:     a.QuantityIn.InexactFloat64(),
		TotalQuantityOut:    a.QuantityOut.InexactFloat64(),
		TotalQuantityOnHand: a.QuantityOnHand.InexactFloat64(),
		TotalWeightIn:       a.WeightIn.InexactFloat64(),
		TotalWeightOut:      a.WeightOut.InexactFloat64(),
		TotalWeightOnHand:   a.WeightOnHand.InexactFloat64(),
		TotalUnitsIn:        a.UnitsIn,
		TotalUnitsOut:       a.UnitsOut,
		TotalUnitsOnHand:    a.UnitsOnHand,
		ProjectConsumption:  []scopeConsumptionResponse{},
	}
	for _, sc := range a.Consumption {
		entry := scopeConsumptionResponse{ProjectID: sc.ScopeID, ProjectName: sc.ScopeName}
		for _, mc := range sc.Materials {
			item := materialConsumptionResponse{
				MaterialID:   mc.MaterialID,
				MaterialName: mc.MaterialName,
				Quantity:     mc.Quantity.InexactFloat64(),
			}
			if mc.Weight != nil {
				weight := mc.Weight.InexactFloat64()
				item.WeightTons = &weight
			}
			item.UnitsCount = mc.Units
			entry.Materials = append(entry.Materials, item)
		}
		resp.ProjectConsumption = append(resp.ProjectConsumption, entry)
	}
	return resp
}
