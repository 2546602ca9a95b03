package rigs

import (
	"armarkertracker/utils"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/optimize"
)

// MinSolveSamples is the minimum number of co-visible sightings a member
// needs before its offset can be solved.
const MinSolveSamples = 3

// Sample is one frame's simultaneous marker poses, camera frame, keyed by
// marker key. Only frames where the primary was visible are usable.
type Sample map[string]spatialmath.Pose

// Residual summarizes how well the solved offsets explain the samples.
type Residual struct {
	TranslationMM float64
	AngleDeg      float64
}

type offsetResiduals struct {
	observed []spatialmath.Pose
}

// Func sums squared rotation distances between the candidate quaternion and
// every per-sample offset. The quaternion is normalized here, not by the
// optimizer.
func (r *offsetResiduals) Func(params []float64) float64 {
	qw, qx, qy, qz := params[0], params[1], params[2], params[3]
	norm := math.Sqrt(qw*qw + qx*qx + qy*qy + qz*qz)
	if norm < 1e-12 {
		return math.Inf(1)
	}
	sum := 0.0
	for _, obs := range r.observed {
		oq := obs.Orientation().Quaternion()
		dot := (qw*oq.Real + qx*oq.Imag + qy*oq.Jmag + qz*oq.Kmag) / norm
		angle := 2 * math.Acos(utils.Clamp(math.Abs(dot), 0, 1))
		sum += angle * angle
	}
	return sum
}

func quatAngleDeg(a, b spatialmath.Pose) float64 {
	qa := a.Orientation().Quaternion()
	qb := b.Orientation().Quaternion()
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	return 2 * math.Acos(utils.Clamp(math.Abs(dot), 0, 1)) * 180 / math.Pi
}

// SolveOffsets estimates every secondary member's offset from samples where
// it was visible together with the primary. Per sample the implied offset is
// inv(primary) * member; translation is the mean across samples, rotation a
// Nelder-Mead fit over quaternion components. The primary keeps an identity
// offset. Returns offsets keyed by member key plus the mean residual.
func SolveOffsets(rig *Rig, samples []Sample, logger logging.Logger) (map[string]spatialmath.Pose, Residual, error) {
	primaryKey := rig.Primary().Key()

	offsets := map[string]spatialmath.Pose{
		primaryKey: spatialmath.NewZeroPose(),
	}
	var residualTranslation, residualAngle float64
	var residualCount int

	for _, member := range rig.Members[1:] {
		key := member.Key()

		var observed []spatialmath.Pose
		for _, sample := range samples {
			primaryPose, ok := sample[primaryKey]
			if !ok {
				continue
			}
			memberPose, ok := sample[key]
			if !ok {
				continue
			}
			observed = append(observed, spatialmath.Compose(spatialmath.PoseInverse(primaryPose), memberPose))
		}
		if len(observed) < MinSolveSamples {
			return nil, Residual{}, fmt.Errorf("member %s has %d co-visible samples, need %d",
				key, len(observed), MinSolveSamples)
		}

		var meanTranslation r3.Vector
		for _, obs := range observed {
			meanTranslation = meanTranslation.Add(obs.Point())
		}
		meanTranslation = meanTranslation.Mul(1.0 / float64(len(observed)))

		initQ := observed[0].Orientation().Quaternion()
		x0 := []float64{initQ.Real, initQ.Imag, initQ.Jmag, initQ.Kmag}

		rf := &offsetResiduals{observed: observed}
		problem := optimize.Problem{
			Func: rf.Func,
		}
		settings := &optimize.Settings{
			FuncEvaluations: 50000,
			Converger: &optimize.FunctionConverge{
				Absolute: 1e-10,
				Relative: 1e-10,
			},
		}
		result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, Residual{}, fmt.Errorf("offset fit for %s failed: %w", key, err)
		}

		qw, qx, qy, qz := result.X[0], result.X[1], result.X[2], result.X[3]
		qNorm := math.Sqrt(qw*qw + qx*qx + qy*qy + qz*qz)
		if qNorm < 1e-12 {
			return nil, Residual{}, fmt.Errorf("offset fit for %s collapsed to a zero quaternion", key)
		}
		orientation := &spatialmath.Quaternion{
			Real: qw / qNorm,
			Imag: qx / qNorm,
			Jmag: qy / qNorm,
			Kmag: qz / qNorm,
		}
		offset := spatialmath.NewPose(meanTranslation, orientation)
		offsets[key] = offset

		for _, obs := range observed {
			residualTranslation += offset.Point().Sub(obs.Point()).Norm()
			residualAngle += quatAngleDeg(offset, obs)
			residualCount++
		}
		logger.Debugf("Solved offset for %s from %d samples: fit error %.6f", key, len(observed), rf.Func(result.X))
	}

	residual := Residual{}
	if residualCount > 0 {
		residual.TranslationMM = residualTranslation / float64(residualCount)
		residual.AngleDeg = residualAngle / float64(residualCount)
	}
	return offsets, residual, nil
}
