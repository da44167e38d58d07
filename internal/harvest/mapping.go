package harvest

import (
	"github.com/JakeFAU/stackharvest/internal/codec"
)

// Field names shared by the upstream API and the checkpoint format.
const (
	fieldQuestionID       = "question_id"
	fieldAnswerID         = "answer_id"
	fieldTitle            = "title"
	fieldBody             = "body"
	fieldTags             = "tags"
	fieldCreationDate     = "creation_date"
	fieldScore            = "score"
	fieldViewCount        = "view_count"
	fieldAnswerCount      = "answer_count"
	fieldIsAnswered       = "is_answered"
	fieldIsAccepted       = "is_accepted"
	fieldAcceptedAnswerID = "accepted_answer_id"
	fieldOwner            = "owner"
	fieldUserID           = "user_id"
	fieldDisplayName      = "display_name"
	fieldReputation       = "reputation"
	fieldAnswersData      = "answers_data"
	fieldFetchedAt        = "fetched_at"
	fieldYearGroup        = "year_group"
)

// QuestionFromValue maps a decoded item onto a Question. Missing or
// wrongly-typed fields take their zero value. Answers, CollectedAt and
// YearGroup are read too, so checkpoints map back losslessly.
func QuestionFromValue(v codec.Value) Question {
	q := Question{
		ID:          v.Field(fieldQuestionID).IntOr(0),
		Title:       v.Field(fieldTitle).StringOr(""),
		Body:        v.Field(fieldBody).StringOr(""),
		Tags:        stringsOf(v.Field(fieldTags)),
		CreatedAt:   v.Field(fieldCreationDate).IntOr(0),
		Score:       int(v.Field(fieldScore).IntOr(0)),
		ViewCount:   int(v.Field(fieldViewCount).IntOr(0)),
		AnswerCount: int(v.Field(fieldAnswerCount).IntOr(0)),
		IsAnswered:  v.Field(fieldIsAnswered).BoolOr(false),
		CollectedAt: v.Field(fieldFetchedAt).IntOr(0),
	}
	if id, ok := v.Field(fieldAcceptedAnswerID).AsInt(); ok {
		q.AcceptedAnswerID = &id
	}
	if y, ok := v.Field(fieldYearGroup).AsInt(); ok {
		year := int(y)
		q.YearGroup = &year
	}
	q.OwnerID, q.OwnerName, q.OwnerReputation = ownerOf(v.Field(fieldOwner))
	if v.Has(fieldAnswersData) {
		q.Answers = AnswersFromValues(v.Field(fieldAnswersData).Items())
	}
	return q
}

// AnswerFromValue maps a decoded item onto an Answer.
func AnswerFromValue(v codec.Value) Answer {
	a := Answer{
		ID:         v.Field(fieldAnswerID).IntOr(0),
		ParentID:   v.Field(fieldQuestionID).IntOr(0),
		Body:       v.Field(fieldBody).StringOr(""),
		CreatedAt:  v.Field(fieldCreationDate).IntOr(0),
		Score:      int(v.Field(fieldScore).IntOr(0)),
		IsAccepted: v.Field(fieldIsAccepted).BoolOr(false),
	}
	a.OwnerID, a.OwnerName, a.OwnerReputation = ownerOf(v.Field(fieldOwner))
	return a
}

// AnswersFromValues maps items in order. The result is never nil.
func AnswersFromValues(items []codec.Value) []Answer {
	out := make([]Answer, 0, len(items))
	for _, item := range items {
		out = append(out, AnswerFromValue(item))
	}
	return out
}

// QuestionsFromValue maps a checkpoint array onto questions.
func QuestionsFromValue(v codec.Value) []Question {
	items := v.Items()
	out := make([]Question, 0, len(items))
	for _, item := range items {
		out = append(out, QuestionFromValue(item))
	}
	return out
}

// Value renders q in checkpoint form.
func (q Question) Value() codec.Value {
	obj := codec.NewObject().
		Set(fieldQuestionID, codec.Int(q.ID)).
		Set(fieldTitle, codec.String(q.Title)).
		Set(fieldBody, codec.String(q.Body)).
		Set(fieldTags, stringsValue(q.Tags)).
		Set(fieldCreationDate, codec.Int(q.CreatedAt)).
		Set(fieldScore, codec.Int(int64(q.Score))).
		Set(fieldViewCount, codec.Int(int64(q.ViewCount))).
		Set(fieldAnswerCount, codec.Int(int64(q.AnswerCount))).
		Set(fieldIsAnswered, codec.Bool(q.IsAnswered))
	if q.AcceptedAnswerID != nil {
		obj.Set(fieldAcceptedAnswerID, codec.Int(*q.AcceptedAnswerID))
	}
	obj.Set(fieldOwner, ownerValue(q.OwnerID, q.OwnerName, q.OwnerReputation))

	answers := make([]codec.Value, 0, len(q.Answers))
	for _, a := range q.Answers {
		answers = append(answers, a.Value())
	}
	obj.Set(fieldAnswersData, codec.Array(answers...))
	obj.Set(fieldFetchedAt, codec.Int(q.CollectedAt))
	if q.YearGroup != nil {
		obj.Set(fieldYearGroup, codec.Int(int64(*q.YearGroup)))
	}
	return codec.ObjectValue(obj)
}

// Value renders a in checkpoint form.
func (a Answer) Value() codec.Value {
	return codec.ObjectValue(codec.NewObject().
		Set(fieldAnswerID, codec.Int(a.ID)).
		Set(fieldQuestionID, codec.Int(a.ParentID)).
		Set(fieldBody, codec.String(a.Body)).
		Set(fieldCreationDate, codec.Int(a.CreatedAt)).
		Set(fieldScore, codec.Int(int64(a.Score))).
		Set(fieldIsAccepted, codec.Bool(a.IsAccepted)).
		Set(fieldOwner, ownerValue(a.OwnerID, a.OwnerName, a.OwnerReputation)))
}

// QuestionsValue renders a result as a checkpoint array.
func QuestionsValue(questions []Question) codec.Value {
	items := make([]codec.Value, 0, len(questions))
	for _, q := range questions {
		items = append(items, q.Value())
	}
	return codec.Array(items...)
}

func ownerOf(v codec.Value) (int64, string, int) {
	return v.Field(fieldUserID).IntOr(0),
		v.Field(fieldDisplayName).StringOr(""),
		int(v.Field(fieldReputation).IntOr(0))
}

func ownerValue(id int64, name string, reputation int) codec.Value {
	return codec.ObjectValue(codec.NewObject().
		Set(fieldUserID, codec.Int(id)).
		Set(fieldDisplayName, codec.String(name)).
		Set(fieldReputation, codec.Int(int64(reputation))))
}

func stringsOf(v codec.Value) []string {
	items := v.Items()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringsValue(in []string) codec.Value {
	items := make([]codec.Value, 0, len(in))
	for _, s := range in {
		items = append(items, codec.String(s))
	}
	return codec.Array(items...)
}
