package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supportedLocales = []language.Tag{
	language.English,
	language.SimplifiedChinese,
}

var localeMatcher = language.NewMatcher(supportedLocales)

var mailMessages = map[language.Tag]map[string]string{
	language.English: {
		"subject.verification": "%s verification code",
		"subject.welcome":      "Thanks for signing up for %s!",
		"verification.intro":   "Use the code below to sign in. Do not share it with anyone.",
		"verification.expiry":  "The code expires in %d minutes.",
		"verification.ignore":  "If you did not request this code you can ignore this email.",
		"welcome.heading":      "Welcome to %s",
		"welcome.password":     "Your account has been created. Your initial password is:",
		"welcome.change":       "Please change it after you sign in.",
	},
	language.SimplifiedChinese: {
		"subject.verification": "%s 动态密码",
		"subject.welcome":      "感谢您注册 %s ！",
		"verification.intro":   "请使用以下验证码登录，请勿泄露给他人。",
		"verification.expiry":  "验证码将在 %d 分钟后失效。",
		"verification.ignore":  "如果这不是您本人的操作，请忽略此邮件。",
		"welcome.heading":      "欢迎使用 %s",
		"welcome.password":     "您的账户已创建，初始密码为：",
		"welcome.change":       "请在登录后尽快修改密码。",
	},
}

func newMailCatalog() (catalog.Catalog, error) {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, messages := range mailMessages {
		for key, msg := range messages {
			if err := builder.SetString(tag, key, msg); err != nil {
				return nil, err
			}
		}
	}
	return builder, nil
}

// matchLocale picks the closest supported locale, defaulting to English.
func matchLocale(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, index, confidence := localeMatcher.Match(tag)
	if confidence == language.No {
		return language.English
	}
	return supportedLocales[index]
}

func newPrinter(cat catalog.Catalog, tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}
