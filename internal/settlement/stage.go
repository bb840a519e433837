package settlement

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

var stagePercent = map[model.PaymentStage]int{
	model.StageAccepted:  5,
	model.StagePickedUp:  60,
	model.StageCompleted: 35,
}

// StagePercent возвращает долю этапа в процентах от суммы ставки.
func StagePercent(stage model.PaymentStage) int {
	return stagePercent[stage]
}

// StageAmount возвращает сумму выплаты этапа. Последний этап получает остаток,
// поэтому сумма трёх этапов всегда равна ставке.
func StageAmount(total decimal.Decimal, stage model.PaymentStage) decimal.Decimal {
	switch stage {
	case model.StageAccepted, model.StagePickedUp:
		return model.Percent(total, stagePercent[stage])
	case model.StageCompleted:
		return total.Round(2).
			Sub(model.Percent(total, stagePercent[model.StageAccepted])).
			Sub(model.Percent(total, stagePercent[model.StagePickedUp]))
	default:
		return decimal.Zero
	}
}

// DueStages возвращает этапы, которые должны быть оплачены при статусе status.
// Прямой переход в delivered требует обоих оставшихся этапов.
func DueStages(status model.ShipmentStatus) []model.PaymentStage {
	switch {
	case status == model.ShipmentStatusDelivered:
		return []model.PaymentStage{model.StagePickedUp, model.StageCompleted}
	case status.Reached(model.ShipmentStatusInTransit):
		return []model.PaymentStage{model.StagePickedUp}
	default:
		return nil
	}
}

func stageReference(shipmentID, bidID uuid.UUID, stage model.PaymentStage) string {
	return fmt.Sprintf("settlement:%s:%s:%s", shipmentID, bidID, stage)
}
