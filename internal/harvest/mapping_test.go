package harvest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/harvest"
)

func TestQuestionFromValue_ReadsUpstreamItem(t *testing.T) {
	t.Parallel()
	q := harvest.QuestionFromValue(questionItem(3))

	assert.Equal(t, int64(3), q.ID)
	assert.Equal(t, "question 3", q.Title)
	assert.Equal(t, []string{"java", "generics"}, q.Tags)
	assert.Equal(t, int64(1262304003), q.CreatedAt)
	assert.Equal(t, 97, q.Score)
	assert.True(t, q.IsAnswered)
	assert.Nil(t, q.AcceptedAnswerID)
	assert.Equal(t, int64(7), q.OwnerID)
	assert.Equal(t, "asker", q.OwnerName)
	assert.Equal(t, 1500, q.OwnerReputation)
	assert.Nil(t, q.Answers, "answers are attached by the harvester")
	assert.Nil(t, q.YearGroup)
}

func TestQuestionFromValue_MissingFieldsDefault(t *testing.T) {
	t.Parallel()
	v, err := codec.Decode([]byte(`{"question_id":"not a number","tags":[1,"go"],"owner":{"user_type":"does_not_exist"}}`))
	require.NoError(t, err)
	q := harvest.QuestionFromValue(v)

	assert.Zero(t, q.ID)
	assert.Empty(t, q.Title)
	assert.Equal(t, []string{"go"}, q.Tags)
	assert.Zero(t, q.OwnerID)
	assert.Empty(t, q.OwnerName)
}

func TestQuestion_CheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	accepted := int64(30)
	year := 2011
	in := harvest.Question{
		ID:               3,
		Title:            "Why is \"x\" slow?",
		Body:             "<p>línea\nsiguiente</p>",
		Tags:             []string{"java"},
		CreatedAt:        1300000000,
		Score:            12,
		ViewCount:        450,
		AnswerCount:      2,
		IsAnswered:       true,
		AcceptedAnswerID: &accepted,
		OwnerID:          9,
		OwnerName:        "asker",
		OwnerReputation:  77,
		Answers: []harvest.Answer{
			{ID: 30, ParentID: 3, Body: "first", CreatedAt: 1300000100, Score: 5, IsAccepted: true, OwnerID: 4, OwnerName: "a", OwnerReputation: 10},
			{ID: 31, ParentID: 3, Body: "second", CreatedAt: 1300000200, Score: -1},
		},
		CollectedAt: 1700000000123,
		YearGroup:   &year,
	}

	decoded, err := codec.Decode(codec.Encode(harvest.QuestionsValue([]harvest.Question{in})))
	require.NoError(t, err)
	out := harvest.QuestionsFromValue(decoded)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0])

	keys := decoded.Items()[0].Object().Keys()
	assert.Equal(t, "question_id", keys[0])
	assert.Contains(t, keys, "answers_data")
	assert.Contains(t, keys, "fetched_at")
	assert.Equal(t, "year_group", keys[len(keys)-1])
}

func TestQuestion_ValueWithoutAnswers(t *testing.T) {
	t.Parallel()
	v := harvest.Question{ID: 1}.Value()
	assert.Equal(t, codec.KindArray, v.Field("answers_data").Kind())
	assert.Empty(t, v.Field("answers_data").Items())
	assert.False(t, v.Has("year_group"))
	assert.False(t, v.Has("accepted_answer_id"))

	back := harvest.QuestionFromValue(v)
	assert.NotNil(t, back.Answers)
	assert.Empty(t, back.Answers)
}

func TestAnswersFromValues_NeverNil(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, harvest.AnswersFromValues(nil))
	assert.Empty(t, harvest.QuestionsFromValue(codec.Null()))
}
