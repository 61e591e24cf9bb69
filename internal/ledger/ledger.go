// Package ledger содержит чистую целочисленную арифметику начисления баллов.
//
// Все вычисления выполняются в минимальных денежных единицах (копейках/сентаво)
// без плавающей точки: дробный прогресс к следующему блоку переносится между
// покупками как целочисленный остаток в диапазоне [0, BlockSize).
package ledger

import "errors"

// ErrInvalidAmount возвращается для неположительной суммы покупки.
var ErrInvalidAmount = errors.New("invalid amount")

// Rate задаёт курс конвертации: PointsPerBlock баллов за каждый полный блок
// из BlockSize минимальных денежных единиц.
type Rate struct {
	PointsPerBlock int64
	BlockSize      int64
}

// Valid сообщает, пригоден ли курс для вычислений.
func (r Rate) Valid() bool {
	return r.PointsPerBlock > 0 && r.BlockSize > 0
}

// Result содержит результат одного начисления.
type Result struct {
	PointsEarned   int64
	RemainderAfter int64
}

// Convert вычисляет начисление баллов за покупку amount при накопленном
// остатке remainderBefore. Баллы начисляются только за полные блоки;
// недоиспользованная часть суммы возвращается как новый остаток.
func Convert(rate Rate, remainderBefore, amount int64) (Result, error) {
	if !rate.Valid() {
		return Result{}, errors.New("invalid conversion rate")
	}
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if remainderBefore < 0 || remainderBefore >= rate.BlockSize {
		return Result{}, errors.New("remainder out of range")
	}

	available := remainderBefore + amount
	blocks := available / rate.BlockSize

	return Result{
		PointsEarned:   blocks * rate.PointsPerBlock,
		RemainderAfter: available % rate.BlockSize,
	}, nil
}
