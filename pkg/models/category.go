package models

// CategoryType classifies how a group's words are connected.
type CategoryType string

const (
	CategorySynonyms          CategoryType = "synonyms"
	CategoryMembersOfSet      CategoryType = "members_of_set"
	CategoryFillInTheBlank    CategoryType = "fill_in_the_blank"
	CategoryWordplay          CategoryType = "wordplay"
	CategoryCompoundWords     CategoryType = "compound_words"
	CategoryCulturalKnowledge CategoryType = "cultural_knowledge"
)

// CategoryTypes contains all category types in prompt order.
var CategoryTypes = []CategoryType{
	CategorySynonyms,
	CategoryMembersOfSet,
	CategoryFillInTheBlank,
	CategoryWordplay,
	CategoryCompoundWords,
	CategoryCulturalKnowledge,
}

// IsValid checks if the category type is known.
func (c CategoryType) IsValid() bool {
	for _, v := range CategoryTypes {
		if v == c {
			return true
		}
	}
	return false
}

// IsSemantic reports whether the connection is about meaning rather than
// spelling or phrase structure. Embedding similarity is only expected to
// reflect semantic categories.
func (c CategoryType) IsSemantic() bool {
	switch c {
	case CategorySynonyms, CategoryMembersOfSet, CategoryCulturalKnowledge:
		return true
	default:
		return false
	}
}
