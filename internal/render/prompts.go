package render

import "fmt"

var entityPrompts = map[string]string{
	"name":           "Как вас зовут?",
	"email":          "На какой email вам отправить информацию?",
	"company":        "Из какой вы компании?",
	"date":           "Когда вам удобно?",
	"time":           "В какое время вам удобно?",
	"phone":          "Оставьте, пожалуйста, номер телефона для связи.",
	"user_name":      "Как вас зовут?",
	"user_email":     "На какой email вам отправить информацию?",
	"user_company":   "Из какой вы компании?",
	"preferred_date": "Когда вам удобно?",
	"product_name":   "Какой продукт вас интересует?",
}

// EntityPrompt returns the canned question for a well-known entity name, or
// a generic request naming the entity.
func EntityPrompt(entity string) string {
	if p, ok := entityPrompts[entity]; ok {
		return p
	}
	return fmt.Sprintf("Пожалуйста, укажите %s", entity)
}
