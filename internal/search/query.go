package search

import (
	"net/url"
	"strings"
)

const (
	operatorSeparator    = ":"
	fieldOperatorPrefix  = "field_"
	dateAfterPrefix      = ">"
	dateBeforePrefix     = "<"
	generalQuerySpacer   = " "
	operatorEmail        = "email"
	operatorID           = "id"
	operatorIDShorthand  = "@id"
	operatorDate         = "date"
	operatorForm         = "form"
	parameterEmailQuery  = "emailQuery"
	parameterIDQuery     = "idQuery"
	parameterDateAfter   = "dateAfter"
	parameterDateBefore  = "dateBefore"
	parameterDateEquals  = "dateEquals"
	parameterFormName    = "formName"
	parameterGeneralText = "generalQuery"
)

// AdvancedQuery is a search term split into operator fields. GeneralQuery
// keeps the leading space added before each bare token.
type AdvancedQuery struct {
	EmailQuery   string
	IDQuery      string
	DateAfter    string
	DateBefore   string
	DateEquals   string
	FormName     string
	Fields       map[string]string
	GeneralQuery string
}

// HasOperators reports whether the term should be run through ParseAdvancedQuery.
func HasOperators(term string) bool {
	return strings.Contains(term, operatorSeparator)
}

// ParseAdvancedQuery splits term on whitespace. Tokens of the form
// operator:value populate the matching field; unknown operators land in
// Fields keyed "field_<operator>". Later tokens overwrite earlier ones.
func ParseAdvancedQuery(term string) AdvancedQuery {
	query := AdvancedQuery{Fields: map[string]string{}}
	for _, token := range strings.Fields(term) {
		operator, value, hasOperator := strings.Cut(token, operatorSeparator)
		if !hasOperator {
			query.GeneralQuery += generalQuerySpacer + token
			continue
		}
		switch strings.ToLower(operator) {
		case operatorEmail:
			query.EmailQuery = value
		case operatorID, operatorIDShorthand:
			query.IDQuery = value
		case operatorDate:
			switch {
			case strings.HasPrefix(value, dateAfterPrefix):
				query.DateAfter = strings.TrimPrefix(value, dateAfterPrefix)
			case strings.HasPrefix(value, dateBeforePrefix):
				query.DateBefore = strings.TrimPrefix(value, dateBeforePrefix)
			default:
				query.DateEquals = value
			}
		case operatorForm:
			query.FormName = value
		default:
			query.Fields[fieldOperatorPrefix+operator] = value
		}
	}
	return query
}

// Apply merges the parsed fields into outgoing request parameters.
func (query AdvancedQuery) Apply(parameters url.Values) {
	setIfPresent(parameters, parameterEmailQuery, query.EmailQuery)
	setIfPresent(parameters, parameterIDQuery, query.IDQuery)
	setIfPresent(parameters, parameterDateAfter, query.DateAfter)
	setIfPresent(parameters, parameterDateBefore, query.DateBefore)
	setIfPresent(parameters, parameterDateEquals, query.DateEquals)
	setIfPresent(parameters, parameterFormName, query.FormName)
	setIfPresent(parameters, parameterGeneralText, query.GeneralQuery)
	for fieldName, value := range query.Fields {
		setIfPresent(parameters, fieldName, value)
	}
}

func setIfPresent(parameters url.Values, key string, value string) {
	if value != "" {
		parameters.Set(key, value)
	}
}
