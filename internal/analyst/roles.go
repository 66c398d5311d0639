package analyst

import "context"

type MacroAnalyst interface {
	AnalyzeMacro(ctx context.Context, in MacroInput) (Result[MacroResult], error)
}

type SentimentAnalyst interface {
	AnalyzeSentiment(ctx context.Context, in SentimentInput) (Result[SentimentResult], error)
}

type TechnicalAnalyst interface {
	AnalyzeTechnical(ctx context.Context, in TechnicalInput) (Result[TechnicalReport], error)
}

type RiskAnalyst interface {
	DecideBatch(ctx context.Context, in RiskInput) (Result[RiskReport], error)
}

type Allocator interface {
	Allocate(ctx context.Context, in AllocationInput) (Result[AllocationReport], error)
}

type PositionReviewer interface {
	ReviewPosition(ctx context.Context, in ReviewInput) (Result[PositionReview], error)
}
