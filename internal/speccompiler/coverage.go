package speccompiler

// CoverageDimension represents one axis the Spec Compiler checks before
// permitting a merge apply. Adapted from the teacher's
// pipeline.ClarityDimension weighted-scoring idiom (there, used to gate
// advancing past a "clarify" stage on requirement ambiguity; here, used
// to gate applying a spec-update merge on how completely the new
// document's chunks were actually extracted and reconciled).
type CoverageDimension struct {
	Name    string
	Weight  int  // relative importance, 1-10
	Covered bool // whether this dimension was satisfied by the merge
	Score   int  // 0-100 for this dimension
}

// DefaultCoverageDimensions are the axes a spec-update merge must clear
// before a caller may apply it (spec.md §4.2: "must report a coverage
// fraction; callers must reject apply if coverage < 100% or unresolved
// conflicts remain").
func DefaultCoverageDimensions(result MergeResult) []CoverageDimension {
	extractionScore := int(result.Coverage * 100)
	conflictScore := 100
	if result.UnresolvedConflict {
		conflictScore = 0
	}
	mappingScore := 100
	if len(result.Requirements) == 0 {
		mappingScore = 0
	}

	return []CoverageDimension{
		{Name: "chunk_extraction", Weight: 10, Covered: result.Coverage >= 1.0, Score: extractionScore},
		{Name: "conflict_resolution", Weight: 10, Covered: !result.UnresolvedConflict, Score: conflictScore},
		{Name: "requirement_mapping", Weight: 6, Covered: mappingScore == 100, Score: mappingScore},
	}
}

// WeightedScore computes the weighted overall score across dimensions,
// the same formula as the teacher's pipeline.CalculateScore.
func WeightedScore(dimensions []CoverageDimension) int {
	totalWeight, weightedSum := 0, 0
	for _, d := range dimensions {
		totalWeight += d.Weight
		weightedSum += d.Score * d.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// UncoveredDimensions returns the dimensions a merge has not yet
// satisfied, for surfacing to the caller deciding whether to retry.
func UncoveredDimensions(dimensions []CoverageDimension) []CoverageDimension {
	var uncovered []CoverageDimension
	for _, d := range dimensions {
		if !d.Covered {
			uncovered = append(uncovered, d)
		}
	}
	return uncovered
}

// CanApply reports whether a merge's coverage and conflict state permit
// applying it, per spec.md §4.2.
func CanApply(result MergeResult) bool {
	return result.Coverage >= 1.0 && !result.UnresolvedConflict
}
