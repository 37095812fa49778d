package nlu

import "strings"

type keywordRule struct {
	intent   Intent
	keywords []string
}

// Order matters: negations must win over "хочу"/"интерес", and explicit
// meeting requests must win over generic interest.
var keywordTable = []keywordRule{
	{IntentDeclineOffer, []string{"не интересно", "не надо", "отказ", "нет спасибо", "нет, спасибо", "не хочу"}},
	{IntentScheduleMeeting, []string{"встреча", "встречу", "звонок", "созвон", "демо", "демонстрация", "запись", "записаться"}},
	{IntentRequestPrice, []string{"цена", "стоимость", "сколько стоит", "прайс", "тариф"}},
	{IntentRequestInfo, []string{"информация", "контакты", "связаться", "связь", "поддержка"}},
	{IntentAskAboutProduct, []string{"работа", "делаешь", "умеешь", "возможности", "функции", "что ты"}},
	{IntentExpressInterest, []string{"хочу", "интерес", "интересно", "интересует", "расскажи", "покажи", "подробнее"}},
}

var controlTable = []keywordRule{
	{IntentGreeting, []string{"привет", "здравствуй", "добрый", "hi", "hello"}},
	{IntentThanks, []string{"спасибо", "благодарю"}},
	{IntentGoodbye, []string{"пока", "до свидания", "выход"}},
}

// MatchKeywords returns the first goal-bearing intent whose keyword list has
// a substring match in text.
func MatchKeywords(text string) (Intent, bool) {
	return firstMatch(keywordTable, normalize(text))
}

// MatchControl returns the first control intent (greeting, thanks, goodbye)
// with a substring match in text.
func MatchControl(text string) (Intent, bool) {
	return firstMatch(controlTable, normalize(text))
}

// KeywordHits counts keyword matches per intent across both tables.
func KeywordHits(text string) map[Intent]int {
	t := normalize(text)
	hits := make(map[Intent]int)
	for _, table := range [][]keywordRule{keywordTable, controlTable} {
		for _, rule := range table {
			for _, kw := range rule.keywords {
				if strings.Contains(t, kw) {
					hits[rule.intent]++
				}
			}
		}
	}
	return hits
}

func firstMatch(table []keywordRule, t string) (Intent, bool) {
	for _, rule := range table {
		for _, kw := range rule.keywords {
			if strings.Contains(t, kw) {
				return rule.intent, true
			}
		}
	}
	return IntentUnknown, false
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
