package posefusion

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultMaxIterations bounds every solve.
	DefaultMaxIterations = 10
	// DefaultTolerance is the step norm and relative cost decrease below which a solve has converged.
	DefaultTolerance = 1e-10
)

// Node keys of the two-node problem.
const (
	AnchorKey = "T_1_0"
	FreeKey   = "T_2_0"
)

// Termination explains why a solve stopped.
type Termination uint8

const (
	// NoResiduals means that nothing was added beyond the priors: the initial guess is returned.
	NoResiduals Termination = iota + 1
	// Converged means that the step or the relative cost decrease fell below tolerance.
	Converged
	// NonDecreasing means that a step failed to strictly decrease the cost. Such a step is never retried.
	NonDecreasing
	// IterationCap means that the maximum number of iterations was reached.
	IterationCap
	// Singular means that the normal equations could not be solved or produced a non-finite step.
	Singular
)

func (t Termination) String() string {
	switch t {
	case NoResiduals:
		return "no residuals"
	case Converged:
		return "converged"
	case NonDecreasing:
		return "non-decreasing step"
	case IterationCap:
		return "iteration cap"
	case Singular:
		return "singular normal equations"
	default:
		return fmt.Sprintf("Termination(%d)", uint8(t))
	}
}

// SolveSummary reports on the last solve.
type SolveSummary struct {
	Iterations  int // Accepted steps.
	InitialCost float64
	FinalCost   float64
	Termination Termination
}

func (s SolveSummary) String() string {
	return fmt.Sprintf("%d iterations, cost %.6g -> %.6g (%s)", s.Iterations, s.InitialCost, s.FinalCost, s.Termination)
}

// SolverOptions configures a Solver.
type SolverOptions struct {
	MaxIterations int     // Defaults to DefaultMaxIterations when not positive.
	Tolerance     float64 // Defaults to DefaultTolerance when not positive.
	Loss          Loss    // Applied to orientation residuals only. Defaults to L2Loss.
}

type poseNode struct {
	key   string
	pose  SE3
	fixed bool
}

type residualBlock struct {
	residual Residual
	nodes    [2]int
	loss     Loss // nil means plain least squares
}

// Solver is a Gauss-Newton solver over exactly two SE(3) nodes: node 0 (T_1_0) is held fixed and node 1 (T_2_0)
// is the only free variable. A Solver is meant to be reset and reused for every frame; it is not safe for
// concurrent use.
type Solver struct {
	maxIter   int
	tolerance float64
	loss      Loss
	nodes     [2]poseNode
	blocks    []residualBlock
	primed    bool
	summary   SolveSummary
}

// NewSolver returns a new two-node solver.
func NewSolver(opts SolverOptions) *Solver {
	s := &Solver{maxIter: opts.MaxIterations, tolerance: opts.Tolerance, loss: opts.Loss}
	if s.maxIter <= 0 {
		s.maxIter = DefaultMaxIterations
	}
	if !(s.tolerance > 0) {
		s.tolerance = DefaultTolerance
	}
	if s.loss == nil {
		s.loss = L2Loss{}
	}
	s.Reset()
	return s
}

// Reset discards all residual blocks and node state.
func (s *Solver) Reset() {
	s.nodes = [2]poseNode{{key: AnchorKey, fixed: true}, {key: FreeKey}}
	s.blocks = nil
	s.primed = false
	s.summary = SolveSummary{}
}

// SetPriors initializes the fixed anchor node with T10 and the free node with T20, which is also the starting
// guess of the solve.
func (s *Solver) SetPriors(T10, T20 SE3) {
	s.nodes[0].pose = T10
	s.nodes[1].pose = T20
	s.primed = true
}

// AddPoseResidual attaches the full pose-to-pose residual of the observed relative transform T21.
func (s *Solver) AddPoseResidual(T21 SE3, stiffness mat.Matrix) error {
	res, err := NewPoseResidual(T21, stiffness)
	if err != nil {
		return err
	}
	s.blocks = append(s.blocks, residualBlock{res, [2]int{0, 1}, nil})
	return nil
}

// AddOrientationResidual attaches an orientation-only residual with the configured robust loss. When reverse
// is set, the node order is (1, 0) and C is expected to be the reverse rotation C12.
func (s *Solver) AddOrientationResidual(C SO3, stiffness mat.Matrix, reverse bool) error {
	res, err := NewOrientationResidual(C, stiffness)
	if err != nil {
		return err
	}
	nodes := [2]int{0, 1}
	if reverse {
		nodes = [2]int{1, 0}
	}
	s.blocks = append(s.blocks, residualBlock{res, nodes, s.loss})
	return nil
}

// NumResiduals returns the number of residual blocks attached since the last Reset.
func (s *Solver) NumResiduals() int {
	return len(s.blocks)
}

// Anchor returns the pose of the fixed node.
func (s *Solver) Anchor() SE3 {
	return s.nodes[0].pose
}

// Node returns the current pose of node i (0 or 1).
func (s *Solver) Node(i int) SE3 {
	return s.nodes[i].pose
}

// Summary returns the summary of the last Solve.
func (s *Solver) Summary() SolveSummary {
	return s.summary
}

// Solve refines the free node and returns the relative transform node1∘node0⁻¹. It only returns an error when
// the priors were not set: numerical issues end the solve and the best iterate is returned.
func (s *Solver) Solve() (SE3, error) {
	if !s.primed {
		return SE3{}, ErrNoPriors
	}
	cost := s.cost(s.nodes[1].pose)
	s.summary = SolveSummary{InitialCost: cost, FinalCost: cost}
	if len(s.blocks) == 0 {
		s.summary.Termination = NoResiduals
		return s.relative(), nil
	}

	s.summary.Termination = IterationCap
	for iter := 0; iter < s.maxIter; iter++ {
		if cost == 0 {
			s.summary.Termination = Converged
			break
		}
		δ, err := s.step()
		if err != nil {
			s.summary.Termination = Singular
			break
		}
		candidate := ExpSE3(δ).Compose(s.nodes[1].pose)
		newCost := s.cost(candidate)
		if !(newCost < cost) {
			s.summary.Termination = NonDecreasing
			break
		}
		s.nodes[1].pose = candidate
		s.summary.Iterations++
		decrease := cost - newCost
		cost = newCost
		if δ.Norm() < s.tolerance || decrease <= s.tolerance*cost {
			s.summary.Termination = Converged
			break
		}
	}
	s.summary.FinalCost = cost
	return s.relative(), nil
}

func (s *Solver) relative() SE3 {
	return s.nodes[1].pose.Compose(s.nodes[0].pose.Inverse())
}

// poses returns the node poses with the free node replaced by free.
func (s *Solver) poses(free SE3) [2]SE3 {
	return [2]SE3{s.nodes[0].pose, free}
}

// cost returns the total robust cost with the free node at the provided pose.
func (s *Solver) cost(free SE3) float64 {
	poses := s.poses(free)
	total := 0.0
	for _, b := range s.blocks {
		r, _, _ := b.residual.Evaluate(poses[b.nodes[0]], poses[b.nodes[1]])
		total += b.lossOrL2().Cost(mat.Norm(r, 2))
	}
	return total
}

// normalEquations assembles the normal equations of the free node at its current pose.
func (s *Solver) normalEquations() *normalEquations {
	poses := s.poses(s.nodes[1].pose)
	ne := newNormalEquations(6)
	for _, b := range s.blocks {
		r, jA, jB := b.residual.Evaluate(poses[b.nodes[0]], poses[b.nodes[1]])
		J := jB
		if !s.nodes[b.nodes[0]].fixed {
			J = jA
		}
		ne.Add(J, r, b.lossOrL2().Weight(mat.Norm(r, 2)))
	}
	return ne
}

// step solves Λ δ = -N for the free node.
func (s *Solver) step() (Tangent, error) {
	return s.normalEquations().Step()
}

// Covariance returns the first order covariance of the free node at its current pose, in the tangent space
// of its left perturbation.
func (s *Solver) Covariance() (*mat.SymDense, error) {
	if !s.primed {
		return nil, ErrNoPriors
	}
	if len(s.blocks) == 0 {
		return nil, errors.New("no residuals to compute a covariance from")
	}
	return s.normalEquations().Covariance()
}

func (b residualBlock) lossOrL2() Loss {
	if b.loss == nil {
		return L2Loss{}
	}
	return b.loss
}
