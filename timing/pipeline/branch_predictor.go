package pipeline

// Predictor is the interface the Decode stage consults to guess
// whether a branch will be taken before it reaches Execute. The target
// address is always known architecturally (PC-relative for RISC-V
// conditional branches), so a predictor need only answer Taken/NotTaken
// and learn from the resolved outcome — no target buffer is needed.
type Predictor interface {
	// Predict returns the predicted taken/not-taken outcome for a branch
	// at pc.
	Predict(pc uint64) bool
	// Update reports the actual outcome of a branch at pc once it
	// resolves in Execute, so the predictor can learn.
	Update(pc uint64, taken bool)
	// Name identifies the predictor variant, used in statistics output.
	Name() string
}

// PredictorStats holds prediction accuracy counters. The pipeline does
// not fill it; its own Statistics counts predictions and mispredictions.
type PredictorStats struct {
	Predictions    uint64
	Correct        uint64
	Mispredictions uint64
}

// Accuracy returns the prediction accuracy as a percentage.
func (s PredictorStats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions) * 100
}

// AlwaysNotTakenPredictor always predicts a branch is not taken.
type AlwaysNotTakenPredictor struct{}

// NewAlwaysNotTakenPredictor creates a static not-taken predictor.
func NewAlwaysNotTakenPredictor() *AlwaysNotTakenPredictor { return &AlwaysNotTakenPredictor{} }

func (p *AlwaysNotTakenPredictor) Predict(pc uint64) bool     { return false }
func (p *AlwaysNotTakenPredictor) Update(pc uint64, taken bool) {}
func (p *AlwaysNotTakenPredictor) Name() string               { return "not-taken" }

// AlwaysTakenPredictor always predicts a branch is taken.
type AlwaysTakenPredictor struct{}

// NewAlwaysTakenPredictor creates a static taken predictor.
func NewAlwaysTakenPredictor() *AlwaysTakenPredictor { return &AlwaysTakenPredictor{} }

func (p *AlwaysTakenPredictor) Predict(pc uint64) bool     { return true }
func (p *AlwaysTakenPredictor) Update(pc uint64, taken bool) {}
func (p *AlwaysTakenPredictor) Name() string               { return "taken" }

// tableSize is the number of entries in the indexed predictors' history
// tables. It must be a power of two.
const tableSize = 1024

func tableIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & (tableSize - 1))
}

// OneBitPredictor remembers only the last outcome seen at each indexed
// PC and predicts a repeat of it.
type OneBitPredictor struct {
	taken []bool
}

// NewOneBitPredictor creates a last-outcome predictor.
func NewOneBitPredictor() *OneBitPredictor {
	return &OneBitPredictor{taken: make([]bool, tableSize)}
}

func (p *OneBitPredictor) Predict(pc uint64) bool {
	return p.taken[tableIndex(pc)]
}

func (p *OneBitPredictor) Update(pc uint64, taken bool) {
	p.taken[tableIndex(pc)] = taken
}

func (p *OneBitPredictor) Name() string { return "1bit" }

// TwoBitPredictor is a bimodal predictor using a 2-bit saturating
// counter per indexed PC: 0/1 predict not-taken, 2/3 predict taken.
type TwoBitPredictor struct {
	counters []uint8
}

// NewTwoBitPredictor creates a 2-bit saturating-counter predictor,
// initialized to weakly-taken.
func NewTwoBitPredictor() *TwoBitPredictor {
	p := &TwoBitPredictor{counters: make([]uint8, tableSize)}
	for i := range p.counters {
		p.counters[i] = 2
	}
	return p
}

func (p *TwoBitPredictor) Predict(pc uint64) bool {
	return p.counters[tableIndex(pc)] >= 2
}

func (p *TwoBitPredictor) Update(pc uint64, taken bool) {
	idx := tableIndex(pc)
	counter := p.counters[idx]
	if taken {
		if counter < 3 {
			p.counters[idx] = counter + 1
		}
	} else {
		if counter > 0 {
			p.counters[idx] = counter - 1
		}
	}
}

func (p *TwoBitPredictor) Name() string { return "2bit" }

// perceptronWeights is the number of history bits (and weights) each
// perceptron predictor entry tracks.
const perceptronWeights = 8

// PerceptronPredictor predicts using a per-PC perceptron over the
// global branch history, trained by the usual perceptron learning rule
// whenever it mispredicts or its output magnitude is at most
// perceptronWeights. The history shifts in every resolved outcome.
type PerceptronPredictor struct {
	weights [][perceptronWeights]int8
	history uint8
}

// NewPerceptronPredictor creates a perceptron branch predictor.
func NewPerceptronPredictor() *PerceptronPredictor {
	return &PerceptronPredictor{weights: make([][perceptronWeights]int8, tableSize)}
}

func (p *PerceptronPredictor) dotProduct(idx uint32) int {
	sum := 0
	w := &p.weights[idx]
	for i := 0; i < perceptronWeights; i++ {
		bit := (p.history >> uint(i)) & 1
		if bit == 1 {
			sum += int(w[i])
		} else {
			sum -= int(w[i])
		}
	}
	return sum
}

func (p *PerceptronPredictor) Predict(pc uint64) bool {
	return p.dotProduct(tableIndex(pc)) >= 0
}

func (p *PerceptronPredictor) Update(pc uint64, taken bool) {
	idx := tableIndex(pc)
	predictedScore := p.dotProduct(idx)
	predicted := predictedScore >= 0

	if predicted != taken || abs(predictedScore) <= perceptronWeights {
		w := &p.weights[idx]
		for i := 0; i < perceptronWeights; i++ {
			bit := (p.history >> uint(i)) & 1
			var t int8 = -1
			if taken {
				t = 1
			}
			var x int8 = -1
			if bit == 1 {
				x = 1
			}
			delta := t * x
			if delta > 0 && w[i] < 127 {
				w[i]++
			} else if delta < 0 && w[i] > -128 {
				w[i]--
			}
		}
	}

	p.history <<= 1
	if taken {
		p.history |= 1
	}
}

func (p *PerceptronPredictor) Name() string { return "perceptron" }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
